package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simrunner/pkg/bus"
	"simrunner/pkg/config"
	"simrunner/pkg/db"
	gos3 "simrunner/pkg/s3"
	"simrunner/pkg/telemetry"
	"simrunner/services/events"
	"simrunner/services/publisher"
	"simrunner/services/resultstore"
	"simrunner/services/runstore"
	"simrunner/services/simapi"
	"simrunner/services/statussync"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIMRUND_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run("simrund", *configPath); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	store, err := runstore.NewPostgres(pool)
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}

	s3Client, err := gos3.NewClientFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}
	gateway, err := resultstore.NewGateway(s3Client, cfg.ResultsBucket, logger)
	if err != nil {
		return fmt.Errorf("init results gateway: %w", err)
	}

	sink := events.MultiSink{events.NewMetricsSink(prometheus.DefaultRegisterer)}
	if cfg.NATSURL != "" {
		eventBus, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
		sink = append(sink, events.NewBusSink(eventBus, logger))
	}

	compute, err := statussync.NewDefaultBatchRunner(ctx, cfg.Batch.JobQueue, cfg.Batch.JobDefinition)
	if err != nil {
		return fmt.Errorf("init batch runner: %w", err)
	}
	syncer, err := statussync.New(compute, store, sink, logger, statussync.Config{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff.Std(),
		QueryTimeout:   cfg.Sync.QueryTimeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("init synchronizer: %w", err)
	}

	pub, err := publisher.New(nil, gateway, store, sink, logger)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}

	api, err := simapi.New(store, pub, syncer, gateway, simapi.Config{
		DownloadTTL: cfg.DownloadTTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	routes, err := api.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: middleware(mux),
	}

	go syncLoop(ctx, syncer, store, logger, cfg.Sync.Interval.Std())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

// syncLoop periodically mirrors external run statuses into the store until
// the context is cancelled.
func syncLoop(ctx context.Context, syncer *statussync.Synchronizer, store *runstore.Postgres, logger *log.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runs, err := store.ListActiveRuns(ctx)
		if err != nil {
			logger.Printf("ERROR list active runs: %v", err)
			continue
		}
		if len(runs) == 0 {
			continue
		}

		updated, err := syncer.Refresh(ctx, runs)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Printf("ERROR status sync: %v", err)
			}
			continue
		}
		logger.Printf("INFO status sync checked %d runs, updated %d", len(runs), len(updated))
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(pool interface {
	Ping(context.Context) error
}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
