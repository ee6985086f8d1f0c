package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/seckill/internal/adapter/handler"
	"github.com/rl1809/seckill/internal/adapter/messaging"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/service"
	"github.com/rl1809/seckill/internal/pkg/clock"
	"github.com/rl1809/seckill/internal/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		fatal(logger, "failed to open mysql", err)
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		fatal(logger, "failed to ping mysql", err)
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if cfg.MySQL.Migrate {
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			fatal(logger, "failed to migrate schema", err)
		}
		logger.Info("schema migrated")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal(logger, "failed to connect redis", err)
	}
	logger.Info("connected to redis")
	redisAdapter := storage.NewRedisAdapter(rdb)

	// Initialize RabbitMQ
	mq := messaging.NewRabbitMQClient(cfg.RabbitMQ, logger)
	if err := mq.Connect(); err != nil {
		fatal(logger, "failed to connect rabbitmq", err)
	}
	publisher := messaging.NewPublisher(mq)

	// Load the catalog and warm the provisional counters
	catalog := service.NewCatalog()
	if err := service.NewPreheater(mysqlAdapter, redisAdapter, catalog, logger).Preheat(ctx, cfg.Preheat.Reset); err != nil {
		fatal(logger, "failed to preheat stock", err)
	}

	// Reservation path
	clk := clock.NewRealClock()
	relay := service.NewRelay(publisher, redisAdapter, logger, cfg.Reservation.RelayTimeout)
	orderService := service.NewOrderService(redisAdapter, catalog, relay, clk, logger, cfg.Reservation.ReserveTimeout)
	gate := service.NewGate(service.GateConfig{
		CoreWorkers:   cfg.Admission.CoreWorkers,
		MaxWorkers:    cfg.Admission.MaxWorkers,
		Backlog:       cfg.Admission.Backlog,
		KeepAlive:     cfg.Admission.KeepAlive,
		SubmitTimeout: cfg.Admission.SubmitTimeout,
	}, orderService, catalog, clk, logger)
	logger.Info("admission gate started", "core_workers", cfg.Admission.CoreWorkers, "max_workers", cfg.Admission.MaxWorkers)

	// Materialization path
	materializer := service.NewMaterializer(mysqlAdapter, redisAdapter, gate, cfg.Breaker, logger, cfg.Reservation.MaterializeTimeout)
	consumer := messaging.NewConsumer(mq, materializer, cfg.RabbitMQ, logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(consumerCtx)
	}()

	if cfg.Reservation.ReconcileInterval > 0 {
		reconciler := service.NewReconciler(redisAdapter, mysqlAdapter, publisher, gate, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconciler.Run(consumerCtx, cfg.Reservation.ReconcileInterval)
		}()
	}

	stockQuery := service.NewStockQuery(redisAdapter)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterSeckillServer(grpcServer, handler.NewGRPCHandler(gate, stockQuery, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		fatal(logger, "failed to listen", err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: handler.NewHTTPHandler(gate, stockQuery, logger).Routes(),
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain accepted requests before the broker goes away
	gate.Close()
	logger.Info("admission gate drained")

	stopConsumer()
	wg.Wait()
	logger.Info("consumers stopped")

	if err := publisher.Close(); err != nil {
		logger.Error("publisher close error", "error", err)
	}
	if err := mq.Close(); err != nil {
		logger.Error("rabbitmq close error", "error", err)
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
