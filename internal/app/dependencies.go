// Package app assembles the shared infrastructure handed to the API and
// worker entrypoints: database pool, Redis, validation, rate limiting and the
// task queue client.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-bullion/internal/config"
	"github.com/noah-isme/backend-bullion/internal/obs"
)

// Dependencies groups the core services shared across modules.
type Dependencies struct {
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
	TaskClient   *asynq.Client
}

// Build connects the shared infrastructure. The returned cleanup closes
// connections in reverse order of creation.
func Build(ctx context.Context, cfg *config.Config, appName string) (*Dependencies, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("instrument redis: %w", err)
	}

	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "limiter"})
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("limiter store: %w", err)
	}

	taskClient := asynq.NewClient(AsynqRedisOpt(redisOpts))

	deps := &Dependencies{
		DB:           pool,
		Redis:        rdb,
		Validator:    validator.New(),
		LimiterStore: store,
		TaskClient:   taskClient,
	}
	cleanup := func() {
		_ = taskClient.Close()
		_ = rdb.Close()
		pool.Close()
	}
	return deps, cleanup, nil
}

// AsynqRedisOpt adapts parsed Redis options for the task queue.
func AsynqRedisOpt(opt *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
	}
}

// NewAPILimiter builds a limiter from a formatted rate such as "600-M".
func NewAPILimiter(store limiter.Store, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	return limiter.New(store, parsed), nil
}

// RunMigrations applies pending schema migrations from dir.
func RunMigrations(databaseURL, dir string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns the default OpenTelemetry meter for instrumentation hooks.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}
