package main

import (
	"context"
	"errors"
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

	"github.com/atmx/clob-engine/internal/config"
	"github.com/atmx/clob-engine/internal/engine"
	"github.com/atmx/clob-engine/internal/events"
	"github.com/atmx/clob-engine/internal/fee"
	"github.com/atmx/clob-engine/internal/ledger"
	"github.com/atmx/clob-engine/internal/limits"
	"github.com/atmx/clob-engine/internal/logging"
	"github.com/atmx/clob-engine/internal/metrics"
	"github.com/atmx/clob-engine/internal/oracle"
	"github.com/atmx/clob-engine/internal/settlement"
	"github.com/atmx/clob-engine/internal/store"
	"github.com/atmx/clob-engine/internal/tenant"
	"github.com/atmx/clob-engine/internal/trade"
)

func main() {
	cfg, err := config.Load(os.Getenv("CLOB_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env, cfg.Tenant.ID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid redis_url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Tenant, ledger and limits ---
	tn, err := tenant.New(cfg.Tenant.ID, cfg.Tenant.Treasury, cfg.Tenant.Assets, fee.Schedule{
		PlacementBps: cfg.Tenant.PlacementFeeBps,
		TradeBps:     cfg.Tenant.TradeFeeBps,
	})
	if err != nil {
		slog.Error("invalid tenant configuration", "err", err)
		os.Exit(1)
	}
	led := ledger.New(tn.Treasury)

	var limiter *limits.OrderLimiter
	if cfg.Limits.MaxOrderAmount > 0 || cfg.Limits.MaxOpenOrdersPerBook > 0 {
		limiter = limits.NewOrderLimiter(cfg.Limits.MaxOrderAmount, cfg.Limits.MaxOpenOrdersPerBook)
	}

	// --- Event stream ---
	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, logger)
		if err != nil {
			slog.Error("kafka producer failed", "err", err)
			os.Exit(1)
		}
		pub = kp
		slog.Info("publishing events to Kafka", "topic", cfg.Kafka.EventsTopic)
	} else {
		slog.Warn("kafka brokers not set, events are dropped")
	}
	defer pub.Close()

	// --- Engine and settlement ---
	eng, err := engine.New(engine.Options{
		Ledger:  led,
		Tenant:  tn,
		Store:   st,
		Emitter: events.NewEmitter(pub, cfg.Kafka.EventsTopic, tn.ID, logger),
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	coordinator := settlement.NewCoordinator(eng, logger)
	tradeSvc := trade.NewService(eng, coordinator)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + cfg.ServiceName + `"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", tradeSvc.Register)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("clob-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// --- Oracle resolutions ---
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.OracleTopic != "" {
		consumer, err := oracle.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.OracleGroup, logger)
		if err != nil {
			slog.Error("oracle consumer failed", "err", err)
			os.Exit(1)
		}
		defer consumer.Close()
		handler := oracle.NewHandler(coordinator, logger)
		g.Go(func() error {
			slog.Info("consuming oracle resolutions", "topic", cfg.Kafka.OracleTopic, "group", cfg.Kafka.OracleGroup)
			if err := consumer.Consume(gctx, []string{cfg.Kafka.OracleTopic}, handler); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		slog.Info("shutting down clob-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("clob-engine stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("clob-engine stopped")
}
