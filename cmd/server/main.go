package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/api"
	"github.com/flipside/market-engine/internal/book"
	"github.com/flipside/market-engine/internal/liquidity"
	"github.com/flipside/market-engine/internal/metrics"
	"github.com/flipside/market-engine/internal/risk"
	"github.com/flipside/market-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Risk controller ---
	riskCtl := risk.NewController(risk.Config{
		BotAccountID:   envString("BOT_ACCOUNT_ID", "liquidity-bot"),
		MaxLoss:        envInt64("BOT_MAX_LOSS", 10_000_000),
		TierWidthPct:   int(envInt64("BOT_TIER_WIDTH_PCT", 10)),
		MinOrderShares: envInt64("BOT_MIN_ORDER_SHARES", 1),
	})

	// --- Matching engine ---
	engine := book.NewEngine(st, riskCtl)

	// --- Liquidity deployer ---
	deployer := liquidity.NewManager(st, engine, liquidity.Config{
		TotalLiquidity:   envInt64("BOT_TOTAL_LIQUIDITY", 10_000),
		GlobalMultiplier: envDecimal("BOT_GLOBAL_MULTIPLIER", decimal.New(1, 0)),
		Spread:           envInt64("BOT_SPREAD", 20),
	})

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(st, engine, deployer, wsHub)

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
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time fill updates.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/accounts", svc.CreateAccount)
		r.Get("/accounts/{accountID}", svc.GetAccount)
		r.Get("/accounts/{accountID}/journal", svc.GetJournal)
		r.Get("/accounts/{accountID}/orders", svc.GetAccountOrders)
		r.Get("/accounts/{accountID}/positions", svc.GetAccountPositions)

		// Market management.
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/book", svc.GetBook)
		r.Post("/markets/{marketID}/resolve", svc.ResolveMarket)
		r.Post("/markets/{marketID}/cancel", svc.CancelMarket)

		// Order execution.
		r.Post("/orders", svc.PlaceOrder)
		r.Get("/orders/{orderID}", svc.GetOrder)
		r.Delete("/orders/{orderID}", svc.CancelOrder)

		// Liquidity bot.
		r.Get("/exposure", svc.GetExposure)
		r.Get("/markets/{marketID}/curve", svc.GetCurve)
		r.Post("/markets/{marketID}/deploy", svc.Deploy)
		r.Get("/deploy/preview", svc.PreviewDeploy)
		r.Put("/markets/{marketID}/override", svc.SetOverride)
		r.Delete("/markets/{marketID}/override", svc.ClearOverride)

		// Weights and shapes.
		r.Get("/weights", svc.GetWeights)
		r.Put("/markets/{marketID}/weight", svc.SetWeight)
		r.Post("/weights/odds", svc.SetWeightsFromOdds)
		r.Post("/shapes", svc.CreateShape)
		r.Get("/shapes/{shapeID}", svc.GetShape)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Error("invalid integer env var", "key", key, "value", v)
		os.Exit(1)
	}
	return n
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Error("invalid decimal env var", "key", key, "value", v)
		os.Exit(1)
	}
	return d
}
