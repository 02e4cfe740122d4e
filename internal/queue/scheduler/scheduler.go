// Package scheduler runs the poller, the bounded worker pool, and the
// stale sweeper described in spec §4.4/§6.1-6.3. Its shape follows the
// teacher's WorkerImpl (sync.WaitGroup + context.WithCancel + shutdown
// channel, panic recovery around each job) layered over famstack's
// DBJobSystem poll-then-claim loop, since the teacher's own worker reads
// off an in-process channel rather than polling a durable store.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talentqueue/jobqueue/internal/logger"
	qconfig "github.com/talentqueue/jobqueue/internal/queue/config"
	"github.com/talentqueue/jobqueue/internal/queue/failure"
	"github.com/talentqueue/jobqueue/internal/queue/metrics"
	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/processor"
	"github.com/talentqueue/jobqueue/internal/queue/service"
)

// Scheduler owns the poller goroutine, the worker pool, and the stale
// sweeper goroutine. Start/Stop implement the same cancel-context +
// WaitGroup + shutdown-channel shape as the teacher's WorkerImpl.
type Scheduler struct {
	cfg      *qconfig.Config
	svc      service.Service
	registry *processor.Registry
	router   *failure.Router
	metrics  *metrics.Collector
	log      *logger.Logger
	elector  Elector
	workerID string

	jobCh      chan *model.Job
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdown   chan struct{}
	mu         sync.Mutex
	running    bool
	lastPollAt time.Time

	// inFlight counts jobs claimed and handed to the worker pool but not
	// yet terminal, so pollOnce never claims more than max_workers minus
	// this count (spec §4.4).
	inFlight atomic.Int64
}

// IsRunning reports whether the scheduler's goroutines are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastPollAt returns the timestamp of the poller's most recent cycle,
// or nil if it has never run.
func (s *Scheduler) LastPollAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPollAt.IsZero() {
		return nil
	}
	t := s.lastPollAt
	return &t
}

func New(cfg *qconfig.Config, svc service.Service, registry *processor.Registry, router *failure.Router, coll *metrics.Collector, log *logger.Logger, elector Elector) *Scheduler {
	if elector == nil {
		elector = NoopElector{}
	}
	return &Scheduler{
		cfg:      cfg,
		svc:      svc,
		registry: registry,
		router:   router,
		metrics:  coll,
		log:      log,
		elector:  elector,
		workerID: fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobCh:    make(chan *model.Job, cfg.BatchSize),
		shutdown: make(chan struct{}),
	}
}

// Start is a no-op when cfg.Enabled is false (spec §6.4's sync-only
// producer mode): the scheduler simply never runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler: already running")
	}
	if !s.cfg.Enabled {
		s.log.Infow("scheduler disabled, running in sync-only mode")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.shutdown = make(chan struct{})
	s.jobCh = make(chan *model.Job, s.cfg.BatchSize)

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.runWorker(runCtx, i)
	}

	s.wg.Add(1)
	go s.runPoller(runCtx)

	s.wg.Add(1)
	go s.runStaleSweeper(runCtx)

	return nil
}

// Stop signals shutdown and waits up to cfg.ShutdownGrace for in-flight
// jobs to finish, mirroring WorkerImpl.Stop's done-channel/timeout race.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.shutdown)
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	graceCtx, graceCancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer graceCancel()

	select {
	case <-done:
		_ = s.elector.Release(context.Background())
		return nil
	case <-graceCtx.Done():
		return graceCtx.Err()
	}
}

// runPoller claims due jobs at a fixed interval and hands them to the
// worker pool over jobCh, backing off to idleBackoff when nothing was
// claimed — the fixed-interval-loop shape spec §4.4 specifies, unlike
// famstack's tight poll loop.
func (s *Scheduler) runPoller(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			leader, err := s.elector.TryAcquire(ctx)
			if err != nil {
				s.log.Errorw("leader election failed", "error", err)
				continue
			}
			if !leader {
				continue
			}
			s.pollOnce(ctx, ticker)
		}
	}
}

// pollOnce claims at most free worker capacity (max_workers minus jobs
// already in flight), capped at batch_size, so it never claims more
// PENDING jobs than the worker pool can actually pick up this cycle
// (spec §4.4). Without this gate, a batch_size larger than max_workers
// — the spec's own example defaults — would mark jobs PROCESSING with
// no worker ever owning them.
func (s *Scheduler) pollOnce(ctx context.Context, ticker *time.Ticker) {
	s.mu.Lock()
	s.lastPollAt = time.Now().UTC()
	s.mu.Unlock()

	free := s.cfg.MaxWorkers - int(s.inFlight.Load())
	if free <= 0 {
		ticker.Reset(s.cfg.IdleBackoff)
		return
	}
	claimSize := s.cfg.BatchSize
	if free < claimSize {
		claimSize = free
	}

	jobs, err := s.svc.ClaimNext(ctx, s.workerID, claimSize)
	if err != nil {
		s.log.Errorw("claim failed", "error", err)
		return
	}
	if len(jobs) == 0 {
		ticker.Reset(s.cfg.IdleBackoff)
		return
	}
	ticker.Reset(s.cfg.PollInterval)
	for _, job := range jobs {
		s.inFlight.Add(1)
		select {
		case s.jobCh <- job:
		case <-ctx.Done():
			s.inFlight.Add(-1)
			return
		default:
			// dispatch channel unexpectedly full despite the capacity gate
			// above (e.g. a burst of completions raced this poll): release
			// the claim back to PENDING without charging it against the
			// job's retry budget, since it was never handed to a worker.
			s.inFlight.Add(-1)
			if err := s.svc.Release(ctx, job); err != nil {
				s.log.Errorw("release on full channel failed", "job_id", job.ID, "error", err)
			}
		}
	}
}

// runWorker pulls jobs off jobCh and executes them against the
// registered processor, heartbeating on cfg.HeartbeatInterval and
// recovering panics the way WorkerImpl.processJob does.
func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case job, ok := <-s.jobCh:
			if !ok {
				return
			}
			s.processJob(ctx, job)
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *model.Job) {
	defer s.inFlight.Add(-1)

	proc, ok := s.registry.Lookup(job.JobType)
	if !ok {
		err := model.NewProcessorMissingError(job.JobType)
		s.log.Errorw("no processor registered", "job_id", job.ID, "job_type", job.JobType)
		outcome := model.Failure("processor_not_found", err.Error(), false)
		_, _ = s.router.Route(ctx, job, outcome)
		_ = s.svc.MarkFailed(ctx, job, outcome.Reason, outcome.Detail, nil)
		return
	}

	// version is tracked out-of-band from job so the heartbeat goroutine
	// never writes into the *model.Job the processor is concurrently
	// reading — only the single version number the final Mark* call
	// needs as its optimistic-lock precondition.
	var version atomic.Int64
	version.Store(job.Version)
	var cancelled atomic.Bool

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeatLoop(heartbeatCtx, job.ID, &version, &cancelled)

	pctx := processor.NewContext(ctx, job, &cancelled, func() {
		s.beatOnce(ctx, job.ID, &version, &cancelled)
	})

	start := time.Now()
	outcome := s.runWithRecover(pctx, proc, job)
	duration := time.Since(start)
	job.Version = version.Load()

	if outcome.Success {
		if err := s.svc.MarkCompleted(ctx, job, outcome.ResultMetadata); err != nil {
			s.log.Errorw("mark completed failed", "job_id", job.ID, "error", err)
			return
		}
		s.metrics.JobsCompleted.WithLabelValues(string(job.JobType)).Inc()
		s.metrics.ObserveDuration(string(job.JobType), "completed", duration)
		return
	}

	// Cancellation is terminal but bypasses the Failure Router entirely:
	// no retry, no dead-letter, and the tracker is left untouched (spec
	// §4.5, §8 scenario 6).
	if outcome.Reason == model.ReasonCancelled {
		if err := s.svc.MarkCancelled(ctx, job); err != nil {
			s.log.Errorw("mark cancelled failed", "job_id", job.ID, "error", err)
		}
		s.metrics.JobsCancelled.WithLabelValues(string(job.JobType)).Inc()
		s.metrics.ObserveDuration(string(job.JobType), "cancelled", duration)
		return
	}

	nextRun, err := s.router.Route(ctx, job, outcome)
	if err != nil {
		s.log.Errorw("failure routing error", "job_id", job.ID, "error", err)
	}
	if err := s.svc.MarkFailed(ctx, job, outcome.Reason, outcome.Detail, nextRun); err != nil {
		s.log.Errorw("mark failed failed", "job_id", job.ID, "error", err)
	}
	if nextRun == nil {
		s.metrics.JobsDeadLetter.WithLabelValues(string(job.JobType)).Inc()
		s.metrics.JobsFailed.WithLabelValues(string(job.JobType)).Inc()
	}
	s.metrics.ObserveDuration(string(job.JobType), "failed", duration)
}

// runWithRecover executes proc.Process, turning any panic into a
// retryable Failure outcome — a safety net, never the intended path.
func (s *Scheduler) runWithRecover(ctx *processor.Context, proc processor.JobProcessor, job *model.Job) (outcome model.ProcessorOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("job processor panicked", "job_id", job.ID, "panic", r)
			outcome = model.Failure("panic", fmt.Sprintf("%v", r), true)
		}
	}()
	return proc.Process(ctx, job)
}

// heartbeatLoop pings the store on cfg.HeartbeatInterval and, on each
// tick, also refreshes cancelled from the row's cancel_requested flag so
// the running processor observes an operator's cancel within one
// heartbeat interval (spec §4.3/§5). It never touches the *model.Job the
// processor goroutine holds — only the out-of-band version/cancelled
// signals processJob reads back after Process returns.
func (s *Scheduler) heartbeatLoop(ctx context.Context, id uuid.UUID, version *atomic.Int64, cancelled *atomic.Bool) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.beatOnce(ctx, id, version, cancelled) {
				return
			}
		}
	}
}

// beatOnce issues a single heartbeat update for id at the last-known
// version, storing the resulting version and cancel_requested flag.
// Returns false if the heartbeat was rejected (job no longer owned at
// that version) and the loop should stop.
func (s *Scheduler) beatOnce(ctx context.Context, id uuid.UUID, version *atomic.Int64, cancelled *atomic.Bool) bool {
	updated, err := s.svc.Heartbeat(ctx, id, version.Load())
	if err != nil {
		// An operator cancel bumps the row's version, so the next heartbeat
		// at the old version conflicts; pick up the cancel from the row.
		if model.IsConflict(err) {
			if current, getErr := s.svc.Get(ctx, id); getErr == nil && current.Status == model.JobStatusProcessing &&
				current.Cancelled && current.AssignedTo != nil && *current.AssignedTo == s.workerID {
				version.Store(current.Version)
				cancelled.Store(true)
				return true
			}
		}
		s.log.Warnw("heartbeat failed", "job_id", id, "error", err)
		return false
	}
	version.Store(updated.Version)
	if updated.Cancelled {
		cancelled.Store(true)
	}
	return true
}

// runStaleSweeper periodically resets jobs whose heartbeat went silent
// for longer than cfg.StaleAfter, the crash-recovery path from spec
// §4.4/§6.3.
func (s *Scheduler) runStaleSweeper(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StaleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			n, err := s.svc.ResetStale(ctx, s.cfg.StaleAfter)
			if err != nil {
				s.log.Errorw("stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Infow("stale sweep reset jobs", "count", n)
			}
		}
	}
}
