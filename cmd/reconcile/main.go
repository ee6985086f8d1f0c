package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/adapter/messaging"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/pkg/config"
)

// reconcile drains the at-risk and diverted lists once and exits. Sold-out
// marks live in the server process and are cleared by its own reconciler.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()

	ctx := context.Background()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		fatal(logger, "failed to open mysql", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fatal(logger, "failed to ping mysql", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal(logger, "failed to connect redis", err)
	}

	mq := messaging.NewRabbitMQClient(cfg.RabbitMQ, logger)
	if err := mq.Connect(); err != nil {
		fatal(logger, "failed to connect rabbitmq", err)
	}
	defer mq.Close()
	publisher := messaging.NewPublisher(mq)
	defer publisher.Close()

	reconciler := service.NewReconciler(storage.NewRedisAdapter(rdb), storage.NewMySQLAdapter(db), publisher, nil, logger)
	republished, err := reconciler.Drain(ctx)
	if err != nil {
		fatal(logger, "reconcile failed", err)
	}
	released, err := reconciler.Compensate(ctx)
	if err != nil {
		fatal(logger, "compensation failed", err)
	}
	logger.Info("reconcile finished", "republished", republished, "released", released)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
