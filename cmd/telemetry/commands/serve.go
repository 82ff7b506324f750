package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/engine"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command. It runs the engine until
// SIGINT or SIGTERM and exposes its self metrics for scraping.
func NewServeCommand(configFile *string) *cobra.Command {
	var (
		listen          string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			l, cleanup, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer cleanup()
			l.SetVersion(version.GetVersionInfo().Version)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			e, err := engine.New(ctx, cfg, engine.WithLogger(l), engine.WithRegisterer(reg))
			if err != nil {
				return err
			}
			e.Start()
			e.Watch()

			srv := &http.Server{
				Addr:              listen,
				Handler:           newMux(e, reg),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			l.EntryWithFields(ctx, logrus.Fields{"component": "serve", "listen": listen}).Info("telemetry server started")

			var serveErr error
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					serveErr = fmt.Errorf("metrics listener: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				l.EntryWithFields(shutdownCtx, logrus.Fields{"component": "serve"}).WithError(err).Warn("http shutdown incomplete")
			}
			if err := e.Stop(shutdownTimeout); err != nil {
				return errors.Join(serveErr, err)
			}
			l.Info(shutdownCtx, "telemetry server stopped")
			return serveErr
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":9464", "address for /metrics, /stats and /healthz")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for draining on exit")
	return cmd
}

func newMux(e *engine.Engine, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Stats())
	})
	return mux
}
