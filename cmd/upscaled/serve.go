package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"upscaled/internal/config"
	"upscaled/internal/httpapi"
	"upscaled/internal/inference"
)

const shutdownTimeout = 30 * time.Second

var _ httpapi.Service = (*inference.Service)(nil)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Warm up the models and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs until ctx is canceled or the listener fails. The listener comes
// up before warm-up so /ping reports 503 while models load.
func serve(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	svc, err := inference.Build(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInvocationTimeout(cfg.InvocationTimeout())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Str("device", cfg.Device).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
	}

	if err := svc.Warmup(ctx); err != nil {
		shutdown()
		return fmt.Errorf("warm-up failed: %w", err)
	}
	go svc.Admission().Run(ctx)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdown()
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}
