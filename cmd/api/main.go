package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slide_analyzer/internal/cache"
	"slide_analyzer/internal/config"
	"slide_analyzer/internal/db"
	"slide_analyzer/internal/handler"
	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/queue"

	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
	}

	observability.InitMetrics()
	logrus.Info("Metrics initialized")

	var database *sql.DB
	if cfg.StoreDriver != "memory" {
		database = db.Init(&cfg.DB)
		defer func() {
			if err := database.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close database connection")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx, database)
		cancel()
		if err != nil {
			logrus.WithError(err).Fatal("Failed to migrate database")
		}
	}

	rdb, err := cache.SetupRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to Redis")
	}
	if rdb != nil {
		defer closeRedis(rdb)
	}

	conn, err := queue.SetupRabbitMQ(&cfg.RabbitMQ)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to RabbitMQ")
	}
	if conn != nil {
		defer closeRabbit(conn)
	}

	app, err := handler.SetupHandler(database, conn, rdb, cfg, observability.GlobalMetrics)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up handler")
	}
	defer func() {
		if err := app.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close event publisher")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("HTTP server shutdown failed")
		}

		poolCtx, cancelPool := context.WithTimeout(context.Background(), cfg.Pool.ShutdownGrace)
		defer cancelPool()
		logrus.WithField("grace", cfg.Pool.ShutdownGrace).Info("Draining analysis workers")
		if err := app.Pool.Shutdown(poolCtx); err != nil {
			logrus.WithError(err).Warn("Grace period elapsed, in-flight tasks were interrupted")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
	logrus.Info("Server exited")
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close redis connection")
	}
}

func closeRabbit(conn *amqp.Connection) {
	if err := conn.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close RabbitMQ connection")
	}
}
