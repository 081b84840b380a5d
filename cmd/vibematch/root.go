package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bdougie/vibematch/internal/config"
)

type commandContext struct {
	viper      *viper.Viper
	configFlag *string
	stderr     io.Writer

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(v *viper.Viper, configFlag *string) *commandContext {
	return &commandContext{
		viper:      v,
		configFlag: configFlag,
		stderr:     os.Stderr,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(c.viper, path)
	})
	return c.config, c.configErr
}

// logger builds the console logger for the loaded configuration
func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(
		tint.NewHandler(c.stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

func newRootCommand() *cobra.Command {
	var configFlag string

	v := config.New()
	ctx := newCommandContext(v, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "vibematch",
		Short:         "Match products and style vibes in short fashion videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("catalog", "", "Catalog CSV path")
	rootCmd.PersistentFlags().String("images", "", "Catalog image CSV path")
	rootCmd.PersistentFlags().String("vibes", "", "Vibe vocabulary JSON path")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("data.catalog", rootCmd.PersistentFlags().Lookup("catalog"))
	_ = v.BindPFlag("data.images", rootCmd.PersistentFlags().Lookup("images"))
	_ = v.BindPFlag("data.vibes", rootCmd.PersistentFlags().Lookup("vibes"))

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newIndexCommand(ctx))

	return rootCmd
}
