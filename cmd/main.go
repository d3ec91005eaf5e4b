package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sk-pathak/wayback-discover-diff-go/internal/api"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/config"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/job"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/logging"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/metrics"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/queue"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/store"
	"github.com/sk-pathak/wayback-discover-diff-go/internal/wayback"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Logging)
	log.Info().Msg("wayback-discover-diff starting")

	statsdClient, err := metrics.New(cfg.Statsd)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build statsd client")
	}
	defer statsdClient.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr(cfg.Redis.Host, cfg.Redis.Port),
		DB:   cfg.Redis.DB,
	})
	defer redisClient.Close()
	cache := store.NewRedisCache(redisClient)

	waybackClient := wayback.NewClient(wayback.Config{
		CdxAuthToken:    cfg.CdxAuthToken,
		MaxCaptureBytes: int64(cfg.Job.MaxCaptureBytes),
		FetchTimeout:    time.Duration(cfg.Job.FetchTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.Job.MaxRetries,
	})

	runner := &job.Runner{
		ChangeLog:         waybackClient,
		Fetcher:           waybackClient,
		Cache:             cache,
		Metrics:           statsdClient,
		Logger:            log,
		SimhashSize:       cfg.Simhash.Size,
		SnapshotsPerYear:  cfg.Snapshots.NumberPerYear,
		Threads:           cfg.Threads,
		MaxDownloadErrors: cfg.Job.MaxDownloadErrors,
		ExpireAfter:       time.Duration(cfg.Simhash.ExpireAfter) * time.Second,
		CommitPartial:     cfg.Job.CommitPartialOnCancel,
	}

	queueRedisOpt := asynq.RedisClientOpt{
		Addr: redisAddr(cfg.Celery.Host, cfg.Celery.Port),
		DB:   cfg.Celery.DB,
	}
	taskQueue := queue.New(queueRedisOpt, "default")
	defer taskQueue.Close()

	server := queue.NewServer(queueRedisOpt, "default", cfg.Celery.Concurrency)
	handler := &queue.Handler{Runner: runner, Logger: log}
	mux := queue.Mux(handler)

	log.Info().Int("concurrency", cfg.Celery.Concurrency).Msg("asynq worker starting")
	if err := server.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("asynq worker failed to start")
	}

	apiHandler := api.NewHandler(cache, taskQueue, statsdClient, cfg.Snapshots.NumberPerPage)
	router := gin.Default()
	if len(cfg.CORS) > 0 {
		router.Use(corsMiddleware(cfg.CORS))
	}
	router.GET("/", apiHandler.Root)
	router.GET("/simhash", apiHandler.GetSimhash)
	router.GET("/calculate-simhash", apiHandler.CalculateSimhash)
	router.GET("/job", apiHandler.GetJobStatus)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}
	server.Shutdown()
	log.Info().Msg("wayback-discover-diff exiting")
}

// corsMiddleware is a minimal allow-list CORS handler. No pack example
// wires gin-contrib/cors or any other CORS library, so this stays on
// stdlib net/http header manipulation instead of adopting a dependency
// nothing else in the corpus exercises.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func redisAddr(host string, port int) string {
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
