package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fielddispatch/internal/api"
	"fielddispatch/internal/auth"
	"fielddispatch/internal/buildinfo"
	"fielddispatch/internal/config"
	"fielddispatch/internal/dispatch"
	"fielddispatch/internal/distance"
	"fielddispatch/internal/events"
	"fielddispatch/internal/metrics"
	"fielddispatch/internal/store"
	"fielddispatch/internal/webhooks"
)

func main() {
	// a missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting", zap.String("version", buildinfo.Version), zap.String("commit", buildinfo.Commit))
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using in-process cache and lock", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	provider := distance.NewProvider(newLookup(cfg, rdb, log), log,
		distance.WithLookupTimeout(cfg.Distance.LookupTimeout),
		distance.WithConcurrency(cfg.Distance.Concurrency),
		distance.WithFallbackSpeed(cfg.Distance.FallbackKph))

	opts := []dispatch.Option{
		dispatch.WithSolverConfig(cfg.SolverOptions()),
		dispatch.WithLogger(log),
	}
	var pubs events.Fanout
	if rdb != nil {
		opts = append(opts, dispatch.WithLocker(dispatch.NewRedisLocker(rdb, cfg.LockTTL, log)))
		pubs = append(pubs, events.NewRedisBroker(rdb))
	}
	if len(cfg.Webhook.URLs) > 0 {
		hooks := webhooks.NewPublisher(cfg.Webhook.URLs, cfg.Webhook.Secret,
			webhooks.WithMaxAttempts(cfg.Webhook.MaxAttempts),
			webhooks.WithLogger(log))
		go hooks.Run(ctx)
		pubs = append(pubs, hooks)
	}
	opts = append(opts, dispatch.WithPublisher(pubs))
	svc := dispatch.NewService(st, provider, opts...)

	srv := api.NewServer(svc, st, auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		api.WithLogger(log),
		api.WithRateLimit(cfg.Rate.RPS, cfg.Rate.Burst))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", httpSrv.Addr), zap.String("distance_provider", cfg.DistanceProvider()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	// in-flight optimize calls may still be committing
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Solver.TimeBudget+10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return zc.Build()
}

// openStore uses Postgres when DATABASE_URL is set, otherwise an in-memory store.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(o)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// newLookup returns nil when every pair should be estimated.
func newLookup(cfg config.Config, rdb *redis.Client, log *zap.Logger) distance.Lookup {
	var lk distance.Lookup
	switch cfg.DistanceProvider() {
	case config.ProviderGoogle:
		lk = distance.NewGoogleLookup(cfg.Distance.GoogleAPIKey,
			distance.WithGoogleRateLimit(cfg.Distance.RPS, cfg.Distance.Burst))
	case config.ProviderOSRM:
		lk = distance.NewOSRMLookup(cfg.Distance.OSRMURL, cfg.Distance.RPS, cfg.Distance.Burst)
	default:
		return nil
	}
	var cache distance.Cache = distance.NewMemoryCache()
	if rdb != nil {
		cache = distance.NewRedisCache(rdb)
	}
	return distance.NewCachedLookup(lk, cache, cfg.Distance.TrafficTTL, cfg.Distance.StaticTTL, log)
}
