// Command golog-auditd consumes credential lifecycle events from JetStream
// and writes them to the login audit log exactly once per event id.
//
// Configuration comes from the environment, optionally loaded from .env:
//
//	NATS_URL              NATS server URL (default nats://127.0.0.1:4222)
//	AUDIT_DATABASE_URL    postgres:// DSN; when empty a SQLite file is used
//	AUDIT_SQLITE_PATH     SQLite file path (default golog-audit.db)
//	AUDIT_WORKERS         concurrent handlers (default 4)
//	AUDIT_DLQ_FILE        also append dead letters as JSON lines to this file
//	LOG_LEVEL, LOG_DEV    logger settings
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MrEthical07/goLogin/audit"
	"github.com/MrEthical07/goLogin/events/jetstream"
	"github.com/MrEthical07/goLogin/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envErr := godotenv.Load()

	logger, err := logging.New(logging.ConfigFromEnv("golog-auditd"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("no .env file loaded", zap.Error(envErr))
	}

	if code := run(logger); code != 0 {
		os.Exit(code)
	}
}

func run(logger *zap.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, closeLog, err := openAuditLog(ctx, logger)
	if err != nil {
		logger.Error("failed to open audit log", zap.Error(err))
		return 1
	}
	defer closeLog()

	cfg := jetstream.DefaultConfig()
	cfg.URL = envOr("NATS_URL", "nats://127.0.0.1:4222")
	if v := os.Getenv("AUDIT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logger.Warn("invalid AUDIT_WORKERS, using default", zap.String("value", v), zap.Int("default", cfg.Workers))
		} else {
			cfg.Workers = n
		}
	}

	stream, err := jetstream.Connect(ctx, cfg, logger.Named("jetstream"))
	if err != nil {
		logger.Error("failed to connect to JetStream", zap.Error(err))
		return 1
	}
	defer stream.Close()

	dlq, closeDLQ, err := openDeadLetter(stream)
	if err != nil {
		logger.Error("failed to open dead-letter file", zap.Error(err))
		return 1
	}
	defer closeDLQ()

	consumer := audit.NewConsumer(log, audit.DefaultConsumerConfig(), logger.Named("audit"))
	sub := jetstream.NewSubscriber(stream, consumer, dlq, logger.Named("subscriber"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sub.Run(gctx)
	})
	g.Go(func() error {
		reportStats(gctx, logger, consumer, sub)
		return nil
	})

	wait := sync.OnceValue(g.Wait)
	go func() {
		// Run only returns early on a setup or worker failure.
		if err := wait(); err != nil {
			logger.Error("subscriber stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	logger.Info("golog-auditd started", zap.String("nats_url", cfg.URL), zap.Int("workers", cfg.Workers))

	shutdownCtx, forceShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer forceShutdown()

	exitCode := <-gfshutdown.GracefulShutdown(shutdownCtx, shutdownTimeout, map[string]gfshutdown.Operation{
		"subscriber": func(context.Context) error {
			cancel()
			return wait()
		},
	})

	stats := consumer.Stats()
	logger.Info("golog-auditd stopped",
		zap.Int("exit_code", exitCode),
		zap.Uint64("inserted", stats.Inserted),
		zap.Uint64("duplicates", stats.Duplicates),
		zap.Uint64("dead_lettered", stats.DeadLettered),
	)
	return exitCode
}

// openAuditLog selects Postgres when AUDIT_DATABASE_URL is set and SQLite
// otherwise. The returned func releases the connection.
func openAuditLog(ctx context.Context, logger *zap.Logger) (audit.Log, func(), error) {
	if dsn := os.Getenv("AUDIT_DATABASE_URL"); strings.HasPrefix(dsn, "postgres") {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log := audit.NewPgxLog(pool)
		if err := log.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("audit log on postgres")
		return log, pool.Close, nil
	}

	path := envOr("AUDIT_SQLITE_PATH", "golog-audit.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	log := audit.NewGormLog(db)
	if err := log.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	logger.Info("audit log on sqlite", zap.String("path", path))
	return log, func() { _ = sqlDB.Close() }, nil
}

// openDeadLetter returns the JetStream dead-letter sink, teed to a JSON
// lines file when AUDIT_DLQ_FILE is set.
func openDeadLetter(stream *jetstream.Stream) (audit.DeadLetter, func(), error) {
	path := os.Getenv("AUDIT_DLQ_FILE")
	if path == "" {
		return stream, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return teeDeadLetter{stream, audit.NewJSONDeadLetter(f)}, func() { _ = f.Close() }, nil
}

type teeDeadLetter []audit.DeadLetter

func (t teeDeadLetter) DeadLetter(ctx context.Context, d audit.Delivery, reason string) error {
	var errs []error
	for _, dl := range t {
		if err := dl.DeadLetter(ctx, d, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func reportStats(ctx context.Context, logger *zap.Logger, consumer *audit.Consumer, sub *jetstream.Subscriber) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := consumer.Stats()
			logger.Info("audit consumer stats",
				zap.Uint64("inserted", stats.Inserted),
				zap.Uint64("duplicates", stats.Duplicates),
				zap.Uint64("retried", stats.Retried),
				zap.Uint64("dead_lettered", stats.DeadLettered),
				zap.Uint64("acked", sub.Acked()),
				zap.Uint64("nacked", sub.Nacked()),
			)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
