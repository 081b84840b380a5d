package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdougie/vibematch/internal/analyzer"
	"github.com/bdougie/vibematch/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP analysis API",
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

			rt, err := analyzer.Initialize(cmd.Context(), cfg, deps, logger)
			if err != nil {
				return fmt.Errorf("initialize analyzer: %w", err)
			}
			defer rt.Close()

			srv := server.New(rt.Processor, rt.Status, server.Options{
				UploadDir: cfg.Server.UploadDir,
				BodyLimit: cfg.Server.BodyLimit,
			}, logger)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.Server.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address")
	_ = ctx.viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
