/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Load config, open the store
  2. Connect NATS and ensure the event stream (when nats.url is set)
  3. Build the engine with metrics and the event publisher
  4. Open configured cash accounts
  5. Start the adjustment scheduler
  6. Serve HTTP until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Mark the service not ready
  2. Stop accepting new connections, wait for active requests (30s)
  3. Stop the scheduler, drain NATS, close the database
*/
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/warp/rent-ledger/api"
	"github.com/warp/rent-ledger/events"
	"github.com/warp/rent-ledger/jobs"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/observability"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

// natsPinger reports the NATS connection as a readiness dependency.
type natsPinger struct{ nc *nats.Conn }

func (p natsPinger) Ping(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime("server")
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log
	ctx := cmd.Context()

	health := observability.NewHealthChecker()
	health.AddDependency("database", rt.store)

	var opts []ledger.Option

	var metricsHandler http.Handler
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		opts = append(opts, ledger.WithRecorder(metrics))
	}

	if cfg.NATS.URL != "" {
		nc, js, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := events.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.Subject); err != nil {
			return err
		}
		health.AddDependency("nats", natsPinger{nc})
		opts = append(opts, ledger.WithPublisher(events.NewJetStreamPublisher(js, cfg.NATS.Subject)))
		log.Info().Str("url", cfg.NATS.URL).Str("stream", cfg.NATS.Stream).Msg("publishing ledger events")
	}

	engine := rt.newEngine(opts...)

	handler := api.NewHandler(engine, log)
	handler.CashAccounts = rt.cashAccounts()
	if err := handler.Bootstrap(ctx); err != nil {
		return err
	}

	interval, err := cfg.AdjustmentInterval()
	if err != nil {
		return err
	}
	scheduler := jobs.NewAdjustmentScheduler(engine, jobs.NewStaticIndex(cfg.IndexValues), interval, log)
	if metrics != nil {
		scheduler.Results = metrics
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := cfg.Server.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}
	server := &http.Server{
		Addr: addr,
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowOrigins,
			Health:         health,
			Metrics:        metricsHandler,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("driver", rt.store.Driver()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	health.SetReady(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info().Msg("shutting down server")
	health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
