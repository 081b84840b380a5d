package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/vibematch/internal/analyzer"
	"github.com/bdougie/vibematch/internal/embeddings"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Compute and cache catalog embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			deps, closeDeps, err := analyzer.Connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			pool := embeddings.NewPool(deps.Provider, cfg.Embedding.Workers)
			defer pool.Close()

			store, err := analyzer.LoadCatalog(cmd.Context(), cfg, deps, pool, rebuild, logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d catalog rows across %d categories into %s\n",
				store.Len(), len(store.Categories()), deps.Cache.Location())
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Ignore cached embeddings and recompute them")
	return cmd
}
