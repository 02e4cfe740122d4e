// Package admin exposes the small HTTP surface spec §4.7 names: enqueue,
// inspect, cancel a job, pull stats, and the dead-letter review/resolve
// workflow, plus a Prometheus scrape endpoint. Handler shape (NewHandler
// taking its dependencies, one method per route, gin.H JSON bodies)
// follows the teacher's internal/health.Handler.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentqueue/jobqueue/internal/logger"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/service"
	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// SchedulerControl is the narrow surface the admin API needs from the
// scheduler for /scheduler/{start,stop,status} — kept as an interface so
// this package doesn't import scheduler directly (admin is wired below
// scheduler in the dependency graph; scheduler depends on service, and
// service must not depend on admin).
type SchedulerControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	LastPollAt() *time.Time
}

// Handler serves the admin/producer-facing queue API.
type Handler struct {
	svc       service.Service
	store     store.Store
	scheduler SchedulerControl
	log       *logger.Logger
}

func NewHandler(svc service.Service, st store.Store, sched SchedulerControl, log *logger.Logger) *Handler {
	return &Handler{svc: svc, store: st, scheduler: sched, log: log}
}

// Register wires every route onto router, grouped under /jobs and
// /scheduler the way the teacher groups its domains under one
// RouterGroup per resource.
func (h *Handler) Register(router *gin.RouterGroup) {
	jobs := router.Group("/jobs")
	{
		jobs.POST("", h.Enqueue)
		jobs.GET("", h.ListByStatus)
		jobs.GET("/stats", h.Stats)
		jobs.GET("/health", h.Health)
		jobs.GET("/metrics", gin.WrapH(promhttp.Handler()))
		jobs.GET("/correlation/:cid", h.ListByCorrelation)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/cancel", h.CancelJob)
		jobs.POST("/stale/reset", h.ResetStale)
		jobs.POST("/cleanup", h.Cleanup)
		jobs.GET("/:id/dead-letter", h.GetDeadLetter)
		jobs.POST("/dead-letter/:id/resolve", h.ResolveDeadLetter)
	}

	sched := router.Group("/scheduler")
	{
		sched.POST("/start", h.SchedulerStart)
		sched.POST("/stop", h.SchedulerStop)
		sched.GET("/status", h.SchedulerStatus)
	}
}

type enqueueRequest struct {
	JobType       string                 `json:"job_type" binding:"required"`
	Payload       map[string]interface{} `json:"payload" binding:"required"`
	CorrelationID *string                `json:"correlation_id"`
	Priority      *int                   `json:"priority"`
	MaxRetries    *int                   `json:"max_retries"`
	ScheduledFor  *time.Time             `json:"scheduled_for"`
}

// Enqueue godoc
// @Summary Enqueue a job
// @Tags Jobs
// @Accept json
// @Produce json
// @Success 201 {object} model.Job
// @Router /jobs [post]
func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payloadBytes, err := marshalPayload(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	spec := service.EnqueueSpec{
		JobType:       model.JobType(req.JobType),
		Payload:       payloadBytes,
		CorrelationID: req.CorrelationID,
		Priority:      req.Priority,
		MaxRetries:    req.MaxRetries,
		ScheduledFor:  req.ScheduledFor,
	}

	job, err := h.svc.Enqueue(c.Request.Context(), spec)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) CancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel_requested"})
}

func (h *Handler) Stats(c *gin.Context) {
	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			window = parsed
		}
	}
	stats, err := h.svc.Stats(c.Request.Context(), window)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	dl, err := h.store.GetDeadLetter(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dl)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Notes      string `json:"notes"`
}

func (h *Handler) ResolveDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter id"})
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dl, err := h.store.ResolveDeadLetter(c.Request.Context(), id, req.ResolvedBy, req.Notes, time.Now().UTC())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dl)
}

func (h *Handler) ListByStatus(c *gin.Context) {
	status := model.JobStatus(c.Query("status"))
	if status == "" {
		status = model.JobStatusPending
	}
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	jobs, err := h.svc.ListByStatus(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) ListByCorrelation(c *gin.Context) {
	jobs, err := h.svc.ListByCorrelation(c.Request.Context(), c.Param("cid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) ResetStale(c *gin.Context) {
	staleAfter := 10 * time.Minute
	if raw := c.Query("stale_after"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			staleAfter = parsed
		}
	}
	n, err := h.svc.ResetStale(c.Request.Context(), staleAfter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset_count": n})
}

func (h *Handler) Cleanup(c *gin.Context) {
	daysToKeep, err := strconv.Atoi(c.Query("daysToKeep"))
	if err != nil || daysToKeep < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "daysToKeep must be a non-negative integer"})
		return
	}
	n, err := h.svc.Cleanup(c.Request.Context(), daysToKeep)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": n})
}

func (h *Handler) Health(c *gin.Context) {
	running := h.scheduler != nil && h.scheduler.IsRunning()
	var lastPoll *time.Time
	if h.scheduler != nil {
		lastPoll = h.scheduler.LastPollAt()
	}
	status, err := h.svc.Health(c.Request.Context(), running, lastPoll)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) SchedulerStart(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "scheduler not configured"})
		return
	}
	if err := h.scheduler.Start(context.Background()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *Handler) SchedulerStop(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "scheduler not configured"})
		return
	}
	if err := h.scheduler.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":      h.scheduler.IsRunning(),
		"last_poll_at": h.scheduler.LastPollAt(),
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrTrackerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case model.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Errorw("admin request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
