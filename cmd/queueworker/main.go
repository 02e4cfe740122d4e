// Command queueworker is the durable job-queue process: it connects to
// the database and (optionally) Redis, runs migrations, registers job
// processors, and serves the admin API alongside the scheduler —
// following the teacher's cmd/api/main.go shape (config.Load, logger.New,
// connect, migrate, serve, graceful shutdown on SIGINT/SIGTERM).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/talentqueue/jobqueue/internal/config"
	"github.com/talentqueue/jobqueue/internal/database"
	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/middleware"
	"github.com/talentqueue/jobqueue/internal/queue/admin"
	qconfig "github.com/talentqueue/jobqueue/internal/queue/config"
	"github.com/talentqueue/jobqueue/internal/queue/failure"
	"github.com/talentqueue/jobqueue/internal/queue/metrics"
	"github.com/talentqueue/jobqueue/internal/queue/processor"
	"github.com/talentqueue/jobqueue/internal/queue/scheduler"
	"github.com/talentqueue/jobqueue/internal/queue/service"
	"github.com/talentqueue/jobqueue/internal/queue/store"
	qredis "github.com/talentqueue/jobqueue/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Infow("starting queueworker", "version", cfg.AppVersion, "env", cfg.AppEnv)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}

	st := store.New(db)

	qcfg := qconfig.Default()
	qcfg.Enabled = cfg.Queue.Enabled
	qcfg.PollInterval = cfg.Queue.PollInterval
	qcfg.IdleBackoff = cfg.Queue.IdleBackoff
	qcfg.BatchSize = cfg.Queue.BatchSize
	qcfg.MaxWorkers = cfg.Queue.MaxWorkers
	qcfg.HeartbeatInterval = cfg.Queue.HeartbeatInterval
	qcfg.StaleAfter = cfg.Queue.StaleAfter
	qcfg.StaleSweepInterval = cfg.Queue.StaleSweepInterval
	qcfg.ShutdownGrace = cfg.Queue.ShutdownGrace
	qcfg.CleanupRetentionDays = cfg.Queue.CleanupRetentionDays
	qcfg.BackoffBase = cfg.Queue.BackoffBase
	qcfg.BackoffCap = cfg.Queue.BackoffCap
	qcfg.BackoffJitter = cfg.Queue.BackoffJitter

	router := failure.NewRouter(st, log, qcfg.BackoffBase, qcfg.BackoffCap, qcfg.BackoffJitter)
	replayer := failure.NewReplayer(st, log, "0 */6 * * *", 100)
	if err := replayer.Start(); err != nil {
		log.Fatal("failed to start dead-letter replayer", "error", err)
	}
	defer replayer.Stop()

	coll := metrics.NewCollector(prometheus.DefaultRegisterer)

	svc := service.New(st, log, qcfg.ClaimOversample, router, coll)

	registry := processor.NewRegistry()
	registry.Register(processor.NewResumeProcessingProcessor(noopResumeParser{}))

	var rdb *goredis.Client
	var elector scheduler.Elector = scheduler.NoopElector{}
	if cfg.RedisHost != "" || cfg.RedisURL != "" {
		client, err := qredis.Connect(cfg)
		if err != nil {
			log.Warnw("redis unavailable, running without leader election or rate limiting", "error", err)
		} else {
			rdb = client
			elector = scheduler.NewLeaderElector(rdb, qcfg.LeaderLockKey, hostIdentity(), qcfg.LeaderLockTTL)
		}
	}

	sched := scheduler.New(qcfg, svc, registry, router, coll, log, elector)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := sched.Start(rootCtx); err != nil {
		log.Fatal("failed to start scheduler", "error", err)
	}

	gin.SetMode(ginMode(cfg.AppEnv))
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID(), middleware.CORS(cfg), middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	if cfg.RateLimit.Enabled && rdb != nil {
		engine.Use(middleware.RateLimiter(rdb, cfg))
	}
	adminHandler := admin.NewHandler(svc, st, sched, log)
	apiGroup := engine.Group("/api/v1")
	adminHandler.Register(apiGroup)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start admin server", "error", err)
		}
	}()
	log.Infow("queueworker started", "port", cfg.AppPort, "scheduler_enabled", qcfg.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down queueworker")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), qcfg.ShutdownGrace+5*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Errorw("scheduler shutdown error", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("admin server forced to shutdown", "error", err)
	}
	log.Infow("queueworker exited")
}

func ginMode(appEnv string) string {
	if appEnv == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

func hostIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		return "queueworker"
	}
	return host
}

// noopResumeParser is a placeholder ResumeParser until the resume
// extraction service (out of scope here) is wired behind this interface.
type noopResumeParser struct{}

func (noopResumeParser) Parse(ctx context.Context, tenantID, filePath, fileName, fileType string) (map[string]interface{}, error) {
	return nil, fmt.Errorf("resume parser not configured")
}
