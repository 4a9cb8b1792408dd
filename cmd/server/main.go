package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanzeco/auth-service/internal/auth"
	authhandler "github.com/fanzeco/auth-service/internal/auth/handler"
	"github.com/fanzeco/auth-service/internal/config"
	"github.com/fanzeco/auth-service/internal/db"
	"github.com/fanzeco/auth-service/internal/ratelimit"
	"github.com/fanzeco/auth-service/internal/security"
	"github.com/fanzeco/auth-service/internal/server"
	"github.com/fanzeco/auth-service/internal/session"
	"github.com/fanzeco/auth-service/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.RateLimit.LoggingLevel)
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	if cfg.DatabaseURL == "" {
		log.Fatalf("config: DATABASE_URL must be set")
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	storeTimeout := cfg.RateLimit.StoreTimeout

	// Counters degrade to an in-process store when Redis is unreachable at
	// boot. Limits still apply per instance, which beats not applying at all.
	var counters ratelimit.CounterStore
	redisCounters, err := ratelimit.NewRedisStore(redisClient, storeTimeout)
	if err != nil {
		logger.Error("redis unavailable, using in-memory rate limit counters", "error", err)
		mem := ratelimit.NewMemoryStore()
		go sweepLoop(mem, cfg.RateLimit.Limits(ratelimit.CategorySensitive).LongWindow)
		counters = mem
	} else {
		counters = redisCounters
	}

	var sessionStore session.Store
	if redisSessions, err := session.NewRedisStore(redisClient, cfg.SessionTTLd, storeTimeout); err != nil {
		logger.Error("redis unavailable, using in-memory session store", "error", err)
		sessionStore = session.NewMemoryStore(cfg.SessionTTLd)
	} else {
		sessionStore = redisSessions
	}

	hasher := security.NewHasher(cfg.BcryptCost, cfg.BcryptMaxConcurrent)
	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL, cfg.RefreshTTL)

	users := repository.NewPostgresRepository(pool)
	authSvc := auth.NewService(users, sessionStore, hasher, tokens, logger)

	recorder := ratelimit.NewRecorder(logger)
	limiter := ratelimit.NewLimiter(counters)
	bypass := ratelimit.NewBypassEvaluator(cfg.RateLimit.Bypass)
	keys := ratelimit.NewKeyGenerator(cfg.RateLimit.HMACSecret)
	mw := ratelimit.NewMiddleware(limiter, bypass, recorder, keys, cfg.RateLimit, logger, cfg.Ecosystem)

	router := server.New(server.Deps{
		Auth:         authhandler.New(authSvc, logger),
		RateLimit:    mw,
		Recorder:     recorder,
		Limiter:      limiter,
		AdminEnabled: cfg.AdminEnabled,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func sweepLoop(store *ratelimit.MemoryStore, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		store.Sweep()
	}
}
