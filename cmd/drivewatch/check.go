package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os/exec"

	"github.com/disintegration/imaging"
	"github.com/kdimtricp/drivewatch/internal/config"
	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/sampler"
	"github.com/spf13/cobra"
)

// probeSource is a flat grey frame used to exercise the endpoint.
type probeSource struct{}

func (probeSource) Dimensions() (int, int) { return 64, 48 }
func (probeSource) Snapshot(ctx context.Context) (image.Image, error) {
	return imaging.New(64, 48, color.Gray{Y: 128}), nil
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "check",
		Short:        "Check the inference endpoint and the ffmpeg tools",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runCheck(ctx context.Context, out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "Checking drivewatch setup")
	fmt.Fprintln(out, "=========================")

	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", cfg.FFmpegPath},
		{"ffprobe", cfg.FFprobePath},
	} {
		path := tool.path
		if path == "" {
			path = tool.name
		}
		if resolved, err := exec.LookPath(path); err != nil {
			fmt.Fprintf(out, "  %-8s missing, video analysis disabled\n", tool.name)
		} else {
			fmt.Fprintf(out, "  %-8s %s\n", tool.name, resolved)
		}
	}

	frame, err := sampler.New(cfg.FrameQuality, cfg.FrameMaxWidth).Capture(ctx, probeSource{})
	if err != nil {
		return fmt.Errorf("failed to encode probe frame: %w", err)
	}

	client := inference.NewClient(cfg.PredictURL, cfg.RequestTimeout)
	res, err := client.Infer(inference.WithMode(ctx, inference.ModeFrame), inference.Media{
		Filename:    sampler.FrameFilename,
		ContentType: frame.ContentType,
		Data:        frame.Data,
	})
	if err != nil {
		fmt.Fprintf(out, "  endpoint %s FAILED\n", cfg.PredictURL)
		return fmt.Errorf("endpoint check failed: %w", err)
	}

	fmt.Fprintf(out, "  endpoint %s OK\n", cfg.PredictURL)
	fmt.Fprintf(out, "  probe frame classified as %s\n", formatResult(res))
	return nil
}
