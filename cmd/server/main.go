package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/bouncer/internal/cache"
	"github.com/fractal-lba/bouncer/internal/config"
	"github.com/fractal-lba/bouncer/internal/metrics"
	"github.com/fractal-lba/bouncer/internal/monitor"
	"github.com/fractal-lba/bouncer/internal/sigmadelta"
	"github.com/fractal-lba/bouncer/internal/source"
	"github.com/fractal-lba/bouncer/internal/verdict"
	"github.com/fractal-lba/bouncer/internal/wal"
	botel "github.com/fractal-lba/bouncer/pkg/otel"
)

func main() {
	configPath := flag.String("config", os.Getenv("BOUNCER_CONFIG"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Tracing
	var shutdownTracer func(context.Context) error
	if cfg.Tracing.Enabled {
		otelCfg := botel.DefaultConfig("bouncer-server")
		otelCfg.CollectorEndpoint = cfg.Tracing.Endpoint
		otelCfg.SamplingRate = cfg.Tracing.SampleRate
		otelCfg.Environment = cfg.Tracing.Environment
		tp, err := botel.InitTracer(ctx, otelCfg)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		shutdownTracer = func(ctx context.Context) error { return botel.Shutdown(ctx, tp) }
	}

	m := metrics.New()

	mon, err := sigmadelta.SymbolicModel(cfg.ModelRanges()).Monitor(cfg.Monitor.Delta,
		monitor.WithParallelism(cfg.Monitor.Parallelism),
		monitor.WithSolveTimeout(cfg.Monitor.SolveTimeout),
		monitor.WithLogger(slog.Default()),
		monitor.WithMetrics(m),
	)
	if err != nil {
		log.Fatalf("Failed to build monitor: %v", err)
	}

	store, err := verdict.Open(ctx, cfg.StoreOptions())
	if err != nil {
		log.Fatalf("Failed to open %s verdict store: %v", cfg.Store.Backend, err)
	}

	verdicts, err := cache.NewVerdictCache(cfg.Server.CacheSize, cfg.Server.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to create verdict cache: %v", err)
	}

	inboxWAL, err := wal.NewInboxWAL(cfg.Server.WALDir)
	if err != nil {
		log.Fatalf("Failed to create inbox WAL: %v", err)
	}

	srv := &Server{
		monitor:    mon,
		store:      store,
		backend:    cfg.Store.Backend,
		cache:      verdicts,
		inboxWAL:   inboxWAL,
		sources:    source.NewManager(cfg.Server.SourceRate, cfg.Server.SourceBurst, cfg.Server.StrictSources),
		metrics:    m,
		gatherer:   prometheus.DefaultGatherer,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Server.TokenRate), cfg.Server.TokenRate*2),
		verdictTTL: cfg.Server.VerdictTTL,
		maxBody:    cfg.Server.MaxBodyBytes,
		hmacKey:    []byte(cfg.Server.HMACKey),
		now:        time.Now,
	}

	srv.metricsAuth.enabled = cfg.Server.MetricsUser != ""
	srv.metricsAuth.user = cfg.Server.MetricsUser
	srv.metricsAuth.password = cfg.Server.MetricsPass

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	maintainCtx, stopMaintain := context.WithCancel(ctx)
	go srv.maintain(maintainCtx, time.Minute)

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s (delta=%g, worlds=%d, store=%s)",
			cfg.Server.Port, mon.Delta(), mon.NumWorlds(), cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")
	stopMaintain()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close resources
	if err := srv.inboxWAL.Close(); err != nil {
		log.Printf("Error closing WAL: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Printf("Error closing verdict store: %v", err)
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}

	log.Println("Server stopped")
}
