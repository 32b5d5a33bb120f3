// Package app holds the start-up plumbing shared by the binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/logger"
	"github.com/richardliu001/order-choreography/internal/model"
	"github.com/richardliu001/order-choreography/internal/tracing"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Base is what every binary starts with.
type Base struct {
	Config *config.Config
	Log    *zap.SugaredLogger
	// Ctx is cancelled on SIGINT/SIGTERM.
	Ctx context.Context

	stop          context.CancelFunc
	shutdownTrace func(context.Context) error
}

// Start loads config, builds the logger and installs tracing for service.
// Failures here are fatal.
func Start(service string) *Base {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.NewLogger(service)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	shutdown, err := tracing.Setup(ctx, cfg.Tracing, service)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	if cfg.Tracing.Endpoint != "" && cfg.Tracing.LogsPath != "" {
		log = logger.WithOTel(log, service)
	}
	return &Base{Config: cfg, Log: log, Ctx: ctx, stop: stop, shutdownTrace: shutdown}
}

// Close flushes spans and logs.
func (b *Base) Close() {
	b.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.shutdownTrace(ctx); err != nil {
		b.Log.Warnf("flush traces: %v", err)
	}
	_ = b.Log.Sync()
}

// GormConfig routes SQL warnings through log. Missing rows are expected
// lookups here, not errors.
func GormConfig(log *zap.SugaredLogger) *gorm.Config {
	return &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(log.Desugar()), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// OpenPostgres connects and migrates every table of the order service.
func OpenPostgres(cfg config.PostgresConfig, log *zap.SugaredLogger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), GormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := gdb.AutoMigrate(
		&model.EventRecord{}, &model.EventStream{},
		&model.Product{}, &model.InventoryItem{}, &model.InventoryReservation{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return gdb, nil
}

// OpenRedis returns nil when no address is configured or the server does not
// answer; callers treat a nil client as "no cache".
func OpenRedis(ctx context.Context, cfg config.RedisConfig, log *zap.SugaredLogger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warnf("redis ping %s: %v; continuing without redis", cfg.Addr, err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
