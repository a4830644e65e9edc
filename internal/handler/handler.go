package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"slide_analyzer/internal/analysis"
	"slide_analyzer/internal/cache"
	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/config"
	"slide_analyzer/internal/middleware"
	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/pool"
	"slide_analyzer/internal/queue"
	"slide_analyzer/internal/resolver"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"
	"slide_analyzer/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// App is the wired HTTP engine plus the pieces main has to shut down.
type App struct {
	Router *gin.Engine
	Pool   *pool.Pool

	publisher *queue.AMQPPublisher
}

// Close releases the event channel. The pool is shut down separately so the
// caller can bound it with its own grace period.
func (a *App) Close() error {
	if a.publisher != nil {
		return a.publisher.Close()
	}
	return nil
}

// SetupHandler initializes all dependencies and routes. db, conn and
// redisClient may be nil: the memory driver needs no database, and the cache,
// rate limiter and event publisher are skipped when their backend is absent.
func SetupHandler(db *sql.DB, conn *amqp.Connection, redisClient *redis.Client, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	tasks, results, err := repositories(db, redisClient, cfg, metrics)
	if err != nil {
		return nil, err
	}

	var events queue.EventPublisher = queue.NoopPublisher{}
	var publisher *queue.AMQPPublisher
	if conn != nil {
		publisher, err = queue.NewAMQPPublisher(conn, cfg.RabbitMQ.Exchange, metrics)
		if err != nil {
			return nil, fmt.Errorf("setup event publisher: %w", err)
		}
		events = publisher
	}

	files := resolver.New(cfg.Storage.InputDir)
	client := compute.NewClient(compute.Options{
		BaseURL:        cfg.Compute.URL,
		ConnectTimeout: cfg.Compute.ConnectTimeout,
		ReadTimeout:    cfg.Compute.ReadTimeout,
		Metrics:        metrics,
	})

	processor := worker.NewProcessor(worker.Deps{
		Tasks:    tasks,
		Results:  results,
		Resolver: files,
		Compute:  client,
		Events:   events,
		Metrics:  metrics,
	})

	workers := pool.New(pool.Options{
		CoreSize:      cfg.Pool.CoreSize,
		MaxSize:       cfg.Pool.MaxSize,
		QueueCapacity: cfg.Pool.QueueCapacity,
		KeepAlive:     cfg.Pool.KeepAlive,
		Metrics:       metrics,
	})

	service := analysis.NewService(analysis.ServiceDeps{
		Tasks:      tasks,
		Results:    results,
		Dispatcher: analysis.NewDispatcher(tasks, workers, processor, metrics),
		Reconciler: analysis.NewReconciler(results, files, metrics),
		Resolver:   files,
		Compute:    client,
	})
	controller := analysis.NewAnalysisController(service, cfg.Storage.ResultsDir)

	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())
	r.Use(middleware.PrometheusMiddleware(metrics, "/metrics", "/healthz"))

	setupRoutes(r, controller, db, redisClient, cfg.JWT.Secret)

	logrus.WithFields(logrus.Fields{
		"store":      cfg.StoreDriver,
		"input_dir":  files.Root(),
		"compute":    cfg.Compute.URL,
		"core":       cfg.Pool.CoreSize,
		"max":        cfg.Pool.MaxSize,
		"queue":      cfg.Pool.QueueCapacity,
		"events":     conn != nil,
		"task_cache": redisClient != nil,
	}).Info("Analysis service wired")

	return &App{Router: r, Pool: workers, publisher: publisher}, nil
}

func repositories(db *sql.DB, redisClient *redis.Client, cfg *config.Config, metrics *observability.Metrics) (task.TaskRepositoryInterface, result.ResultRepositoryInterface, error) {
	var tasks task.TaskRepositoryInterface
	var results result.ResultRepositoryInterface

	switch cfg.StoreDriver {
	case "memory":
		tasks = task.NewMemoryRepository()
		results = result.NewMemoryRepository()
	case "postgres", "":
		if db == nil {
			return nil, nil, fmt.Errorf("store driver %q needs a database connection", "postgres")
		}
		tasks = task.NewTaskRepository(db)
		results = result.NewResultRepository(db)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if redisClient != nil {
		tasks = task.NewCachedRepository(tasks, cache.NewTaskCache(redisClient), metrics)
	}
	return tasks, results, nil
}

// setupRoutes configures all application routes
func setupRoutes(r *gin.Engine, ctrl *analysis.AnalysisController, db *sql.DB, redisClient *redis.Client, jwtSecret string) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(db, redisClient))

	guards := []gin.HandlerFunc{}
	if jwtSecret != "" {
		guards = append(guards, middleware.AuthMiddleware(jwtSecret))
	} else {
		logrus.Warn("JWT_SECRET not set, mutating routes are unauthenticated")
	}
	guards = append(guards, middleware.RateLimiterMiddleware(redisClient, "write", middleware.ConservativeRateLimiter()))

	api := r.Group("/api/fullnet")
	api.Use(middleware.RateLimiterMiddleware(redisClient, "read", middleware.GenerousRateLimiter()))
	ctrl.RegisterRoutes(api, guards...)
}

func healthz(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	}
}
