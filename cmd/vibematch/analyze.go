package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdougie/vibematch/internal/analyzer"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var videoPath string
	var framesDir string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a single video file and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if videoPath == "" {
				return fmt.Errorf("--video is required")
			}

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

			rt.Processor.FramesDir = framesDir

			videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
			result, err := rt.Processor.ProcessVideo(cmd.Context(), videoName, videoPath)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&videoPath, "video", "", "Path to the video file")
	cmd.Flags().StringVar(&framesDir, "frames-dir", "", "Write sampled frames under this directory")
	cmd.Flags().String("output", "", "Write the result JSON under this directory")
	_ = ctx.viper.BindPFlag("data.output_dir", cmd.Flags().Lookup("output"))
	return cmd
}
