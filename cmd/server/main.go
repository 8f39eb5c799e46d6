package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/portfolio-engine/internal/api"
	"github.com/atmx/portfolio-engine/internal/bus"
	"github.com/atmx/portfolio-engine/internal/config"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/portfolio"
	"github.com/atmx/portfolio-engine/internal/risk"
	"github.com/atmx/portfolio-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("PORTFOLIO_CONFIG"), "path to YAML config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if l, err := config.ParseLevel(cfg.Log.Level); err == nil {
		level.Set(l)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Instruments ---
	instruments := instrument.NewRegistry()
	if cfg.Instruments.File != "" {
		n, err := instrument.LoadFile(instruments, cfg.Instruments.File)
		if err != nil {
			slog.Error("instrument catalog load failed", "file", cfg.Instruments.File, "err", err)
			os.Exit(1)
		}
		slog.Info("instruments loaded", "file", cfg.Instruments.File, "count", n)
	} else {
		slog.Warn("instruments.file not set, registry is empty")
	}

	// --- Initialize store ---
	// The portfolio always reads the in-memory store. With a database
	// configured, writes are forwarded to it asynchronously.
	hot := store.NewMemoryStore()
	var st store.Store = hot
	var history store.Store = hot
	var wb *store.WriteBehind
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")

		var durable store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis.url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			durable = store.NewCachedStore(pg, rdb, cfg.Redis.TTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.String())
		}

		orders, positions, err := store.Recover(ctx, durable, hot)
		if err != nil {
			slog.Error("state recovery failed", "err", err)
			os.Exit(1)
		}
		slog.Info("state recovered", "orders", orders, "positions", positions)

		wb = store.NewWriteBehind(hot, durable, cfg.Store.FlushInterval)
		st = wb
		history = durable
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()

	// --- Portfolio ---
	pf := portfolio.New(instruments, st, wsHub)
	if err := pf.InitializeOrders(ctx); err != nil {
		slog.Error("portfolio initialization failed", "err", err)
		os.Exit(1)
	}
	if err := pf.InitializePositions(ctx); err != nil {
		slog.Error("portfolio initialization failed", "err", err)
		os.Exit(1)
	}

	// --- Message bus ---
	b := bus.New()
	pf.Register(b)
	dispatcher := bus.NewDispatcher(b, cfg.Bus.Capacity)

	// --- Risk + API ---
	limiter := risk.NewLimiter(instruments, pf, cfg.Risk.MaxInstrumentExposure, cfg.Risk.MaxVenueExposure)
	svc := api.NewService(pf, instruments, st, history, dispatcher, limiter)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"portfolio-engine","initialized":%t}`, pf.Initialized())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket position feed.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	dispatched := make(chan error, 1)
	go func() { dispatched <- dispatcher.Run(context.Background()) }()

	flushCtx, stopFlush := context.WithCancel(context.Background())
	defer stopFlush()
	flushed := make(chan error, 1)
	if wb != nil {
		go func() { flushed <- wb.Run(flushCtx) }()
	} else {
		flushed <- nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("portfolio-engine listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		slog.Info("shutting down portfolio-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
	}

	// Graceful shutdown: drain queued events into the portfolio, then flush
	// the write-behind buffer.
	dispatcher.Close()
	if err := <-dispatched; err != nil {
		slog.Error("bus drain failed", "err", err)
	}
	stopFlush()
	if err := <-flushed; err != nil {
		slog.Error("final flush failed", "err", err)
	}
	slog.Info("portfolio-engine stopped")
}
