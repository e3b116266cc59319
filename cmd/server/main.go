package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/drivewatch/internal/api"
	"github.com/kdimtricp/drivewatch/internal/config"
	"github.com/kdimtricp/drivewatch/internal/controller"
	"github.com/kdimtricp/drivewatch/internal/inference"
	"github.com/kdimtricp/drivewatch/internal/logging"
	"github.com/kdimtricp/drivewatch/internal/media"
	"github.com/kdimtricp/drivewatch/internal/sampler"
	"github.com/kdimtricp/drivewatch/internal/storage"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	previewStore, err := storage.NewLocalStorage(cfg.PreviewDir)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}

	events := api.NewBroadcaster()
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
			Hooks: events.Hooks(),
		},
	)

	app := &api.App{
		Controller:    ctrl,
		Events:        events,
		MaxUploadSize: cfg.MaxUploadSize,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event streams end with the process context so Shutdown is not held open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server starting on port %s", cfg.Port)
		log.Printf("Inference endpoint: %s", cfg.PredictURL)
		log.Printf("Preview directory: %s", cfg.PreviewDir)
		log.Printf("Sample interval: %v", cfg.SampleInterval)
		log.Printf("Max upload size: %d bytes", cfg.MaxUploadSize)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		ctrl.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
