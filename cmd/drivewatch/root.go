package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kdimtricp/drivewatch/internal/config"
	"github.com/kdimtricp/drivewatch/internal/controller"
	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/media"
	"github.com/kdimtricp/drivewatch/internal/sampler"
	"github.com/kdimtricp/drivewatch/internal/storage"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

// flagValues mirror the environment configuration; a flag wins only when
// it was set on the command line.
type flagValues struct {
	predictURL string
	interval   time.Duration
	timeout    time.Duration
	quality    int
	maxWidth   int
	dropStale  bool
	logLevel   string
	ffmpeg     string
	ffprobe    string
	runFor     time.Duration
}

func newRootCmd() *cobra.Command {
	var f flagValues

	cmd := &cobra.Command{
		Use:          "drivewatch <file>",
		Short:        "Classify driver distraction in an image or a video",
		Long:         "Images are analyzed once. Videos are played and sampled until they end, --for elapses, or the process is interrupted.",
		Version:      Version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &f)
			if err != nil {
				return err
			}
			logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
			return run(cmd.Context(), cmd.OutOrStdout(), args[0], cfg, f.runFor)
		},
	}

	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.AddCommand(newCheckCmd())

	flags := cmd.Flags()
	flags.StringVar(&f.predictURL, "predict-url", config.DefaultPredictURL, "Inference endpoint (env PREDICT_URL)")
	flags.DurationVarP(&f.interval, "interval", "i", config.DefaultSampleInterval, "Video sampling period (env SAMPLE_INTERVAL)")
	flags.DurationVar(&f.timeout, "timeout", config.DefaultRequestTimeout, "Per-request timeout (env REQUEST_TIMEOUT)")
	flags.IntVarP(&f.quality, "quality", "q", config.DefaultFrameQuality, "JPEG quality for sampled frames, 1-100 (env FRAME_QUALITY)")
	flags.IntVar(&f.maxWidth, "max-width", config.DefaultFrameMaxWidth, "Downscale frames wider than this, 0 keeps native size (env FRAME_MAX_WIDTH)")
	flags.BoolVar(&f.dropStale, "drop-stale", false, "Ignore responses older than the newest one shown (env DROP_STALE_RESULTS)")
	flags.StringVar(&f.logLevel, "log-level", "info", "debug, info, warn or error (env LOG_LEVEL)")
	flags.StringVar(&f.ffmpeg, "ffmpeg", "", "Path to ffmpeg (env FFMPEG_PATH)")
	flags.StringVar(&f.ffprobe, "ffprobe", "", "Path to ffprobe (env FFPROBE_PATH)")
	flags.DurationVar(&f.runFor, "for", 0, "Stop sampling a video after this long, 0 runs to the end")

	return cmd
}

func resolveConfig(cmd *cobra.Command, f *flagValues) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("predict-url") {
		cfg.PredictURL = f.predictURL
	}
	if changed("interval") {
		cfg.SampleInterval = f.interval
	}
	if changed("timeout") {
		cfg.RequestTimeout = f.timeout
	}
	if changed("quality") {
		cfg.FrameQuality = f.quality
	}
	if changed("max-width") {
		cfg.FrameMaxWidth = f.maxWidth
	}
	if changed("drop-stale") {
		cfg.DropStaleResults = f.dropStale
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("ffmpeg") {
		cfg.FFmpegPath = f.ffmpeg
	}
	if changed("ffprobe") {
		cfg.FFprobePath = f.ffprobe
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, out io.Writer, path string, cfg *config.Config, runFor time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	previewStore, err := storage.NewLocalStorage(cfg.PreviewDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	rep := newReporter(out)
	ctrl := controller.New(
		media.NewIngester(previewStore),
		inference.NewClient(cfg.PredictURL, cfg.RequestTimeout),
		sampler.New(cfg.FrameQuality, cfg.FrameMaxWidth),
		controller.Options{
			SampleInterval:   cfg.SampleInterval,
			RequestTimeout:   cfg.RequestTimeout,
			DropStaleResults: cfg.DropStaleResults,
			OpenSurface: controller.PlayerOpener(sampler.PlayerConfig{
				FFmpegPath:  cfg.FFmpegPath,
				FFprobePath: cfg.FFprobePath,
			}),
			Hooks: controller.Hooks{
				OnChange: rep.onChange,
				OnAlert:  rep.onAlert,
			},
		},
	)
	defer ctrl.Close()

	name := filepath.Base(path)
	item, err := ctrl.SelectFile(ctx, media.File{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Data:        data,
	})
	if err != nil {
		return err
	}

	if item.Kind == media.KindImage {
		_, err := ctrl.Analyze(ctx)
		return err
	}

	if err := ctrl.Toggle(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sampling %s every %v\n", name, cfg.SampleInterval)

	var deadline <-chan time.Time
	if runFor > 0 {
		timer := time.NewTimer(runFor)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-rep.ended:
		fmt.Fprintln(out, "Video ended")
	case <-deadline:
		fmt.Fprintln(out, "Stopped after", runFor)
	case <-ctx.Done():
		fmt.Fprintln(out, "Interrupted")
	}
	return nil
}

// reporter prints each new result and notices when playback stops on its own.
type reporter struct {
	mu       sync.Mutex
	out      io.Writer
	last     time.Time
	sampling bool
	ended    chan struct{}
}

func newReporter(out io.Writer) *reporter {
	return &reporter{out: out, ended: make(chan struct{}, 1)}
}

func (r *reporter) onChange(s controller.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Result != nil && s.Result.ReceivedAt.After(r.last) {
		r.last = s.Result.ReceivedAt
		fmt.Fprintln(r.out, formatResult(s.Result))
	}

	switch s.State {
	case controller.StateReadyVideoAnalyzing:
		r.sampling = true
	case controller.StateReadyVideoPaused:
		if r.sampling {
			r.sampling = false
			select {
			case r.ended <- struct{}{}:
			default:
			}
		}
	}
}

func (r *reporter) onAlert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, "!", msg)
}

func formatResult(res *inference.Result) string {
	confidence := "n/a"
	if res.Confidence != nil {
		confidence = fmt.Sprintf("%.1f%%", *res.Confidence*100)
	}
	verdict := "SAFE"
	if res.Status == inference.StatusDistracted {
		verdict = "DISTRACTED"
	}
	return fmt.Sprintf("[%s] %-10s %s (%s)", res.ReceivedAt.Format("15:04:05"), verdict, res.Label, confidence)
}
