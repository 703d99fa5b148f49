package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/recall/internal/app"
	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/tracing"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the store open and hot-reload search settings",
		Long: `Watch keeps the configured layers open, reloads the search settings
whenever the config file changes and, when metrics are enabled, serves
Prometheus metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cfg.Logging.Console = true
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Addr = metricsAddr
			}

			path := config.NewLoader(opts.cfgFile).GetConfigPath()
			return runWithConfig(cmd, cfg, func(ctx context.Context, a *app.App) error {
				return watch(ctx, a, path)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func watch(ctx context.Context, a *app.App, path string) error {
	logger := tracing.LoggerFromContext(ctx, a.Logger)
	bg := tracing.Detach(ctx)

	w, err := config.NewWatcher(path, logger,
		func(cfg *config.Config) {
			err := a.Reload(cfg)
			a.Audit.RecordConfigReload(bg, path, err)
			if err != nil {
				logger.Warn().Err(err).Msg("Rejected reloaded search config")
			}
		},
		config.WithErrorHandler(func(err error) {
			a.Audit.RecordConfigReload(bg, path, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	defer w.Stop()

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv = &http.Server{
			Addr:              a.Config.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	logger.Info().Str("config", path).Msg("Watching for config changes")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("metrics server failed: %w", err)
	}

	logger.Info().Msg("Shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
