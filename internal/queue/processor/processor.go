// Package processor defines the JobProcessor boundary (spec §4.3) and a
// Registry mapping job_type to processor, grounded on the teacher's
// handlers.go (EmailJobHandler/WebhookJobHandler implementing a common
// Handle/GetType/GetTimeout interface, looked up by type string in
// WorkerImpl.processJob).
package processor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/talentqueue/jobqueue/internal/queue/model"
)

// Context is what the worker harness hands a JobProcessor (spec §4.3):
// the job's correlation id and metadata for convenience, a cooperative
// Cancelled() signal flipped once a heartbeat sees an operator's cancel
// (scheduler shutdown does not flip it; it is visible only as the
// embedded context.Context being done), and a Heartbeat() a processor may call
// directly around a long sub-step instead of waiting for the harness's
// own background heartbeat tick.
type Context struct {
	context.Context
	CorrelationID *string
	Metadata      model.JSONMap

	cancelled    *atomic.Bool
	heartbeatFn  func()
}

// NewContext wraps ctx for a processor invocation. cancelled may be nil,
// in which case Cancelled() always reports false (used by tests that
// don't exercise cancellation).
func NewContext(ctx context.Context, job *model.Job, cancelled *atomic.Bool, heartbeatFn func()) *Context {
	if heartbeatFn == nil {
		heartbeatFn = func() {}
	}
	var correlationID *string
	var metadata model.JSONMap
	if job != nil {
		correlationID = job.CorrelationID
		metadata = job.Metadata
	}
	return &Context{Context: ctx, CorrelationID: correlationID, Metadata: metadata, cancelled: cancelled, heartbeatFn: heartbeatFn}
}

// Cancelled reports whether the job has been cooperatively cancelled.
// Processors should poll this at coarse boundaries (per file, per LLM
// call) and return model.Failure(model.ReasonCancelled, ..., false) as
// soon as it observes true.
func (c *Context) Cancelled() bool {
	if c == nil || c.cancelled == nil {
		return false
	}
	return c.cancelled.Load()
}

// Heartbeat asks the harness to refresh the job's liveness stamp now,
// in addition to its normal background cadence.
func (c *Context) Heartbeat() {
	if c == nil || c.heartbeatFn == nil {
		return
	}
	c.heartbeatFn()
}

// JobProcessor executes the business logic for one job type. It must
// never panic for expected failures — return a Failure outcome instead;
// the worker pool recovers unexpected panics and treats them as
// retryable failures, but that path is a safety net, not a control flow.
type JobProcessor interface {
	Process(ctx *Context, job *model.Job) model.ProcessorOutcome
	JobType() model.JobType
}

// Registry maps job_type to its registered JobProcessor.
type Registry struct {
	mu         sync.RWMutex
	processors map[model.JobType]JobProcessor
}

func NewRegistry() *Registry {
	return &Registry{processors: make(map[model.JobType]JobProcessor)}
}

func (r *Registry) Register(p JobProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.JobType()] = p
}

func (r *Registry) Lookup(jobType model.JobType) (JobProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	return p, ok
}
