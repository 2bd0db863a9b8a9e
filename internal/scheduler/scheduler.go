// Package scheduler is the daemon loop. Each iteration it fires the Loaded
// hook, runs every due recurring job through the hook registry and
// records the run, and on a slower cadence fires AdminInit and prunes old
// run history. Jobs run one at a time on the loop goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/cron"
	"github.com/livinlefevreloca/omakase-sync/internal/db"
	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/inbox"
)

// ErrStopped is returned when a request reaches a scheduler that has stopped
var ErrStopped = errors.New("scheduler: stopped")

// JobQueue yields due jobs and moves them to their next occurrence.
// *cron.Registry implements it.
type JobQueue interface {
	Due(now time.Time) ([]cron.Job, error)
	Advance(job cron.Job) (time.Time, error)
}

// RunStore persists job run history. *db.DB implements it.
type RunStore interface {
	CreateJobRun(run *db.JobRun) error
	CompleteJobRun(runID string, success bool, errorMsg *string) error
	PruneJobRuns(before time.Time) (int64, error)
}

// Scheduler fires due jobs and host hooks
type Scheduler struct {
	// Configuration
	config SchedulerConfig
	logger *slog.Logger
	clock  clock.Clock

	// Collaborators
	jobs  JobQueue
	hooks *hooks.Registry
	runs  RunStore

	// Stats (accessed only by the loop goroutine)
	stats Stats

	// Communication
	inbox *inbox.Inbox[InboxMessage]

	// Control
	stopping bool
	done     chan struct{}
}

// NewScheduler creates a new scheduler instance with validated configuration
func NewScheduler(config SchedulerConfig, jobs JobQueue, registry *hooks.Registry, runs RunStore, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Scheduler{
		config: config,
		logger: logger,
		clock:  clk,
		jobs:   jobs,
		hooks:  registry,
		runs:   runs,
		inbox:  inbox.New[InboxMessage](config.InboxBufferSize, config.InboxSendTimeout, logger),
		done:   make(chan struct{}),
	}, nil
}

// Run fires Init and then iterates until ctx is cancelled or Shutdown is
// called
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	s.logger.Info("starting scheduler", "loop_interval", s.config.LoopInterval)

	if err := s.hooks.Do(ctx, hooks.Init); err != nil {
		s.logger.Error("init hooks failed", "error", err)
	}

	ticker := time.NewTicker(s.config.LoopInterval)
	defer ticker.Stop()

	s.Iterate(ctx)

	for !s.stopping {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil

		case msg := <-s.inbox.C():
			s.inbox.MarkReceived()
			s.handleMessage(ctx, msg)

		case <-ticker.C:
			s.Iterate(ctx)
		}
	}

	s.logger.Info("scheduler shutdown complete")
	return nil
}

// Shutdown asks the loop to stop after the current iteration
func (s *Scheduler) Shutdown(ctx context.Context) error {
	return s.send(ctx, InboxMessage{Type: MsgShutdown})
}

// Done is closed when Run returns
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Trigger asks the loop to fire hook
func (s *Scheduler) Trigger(ctx context.Context, hook string) error {
	return s.send(ctx, InboxMessage{Type: MsgTriggerHook, Data: TriggerHookMsg{Hook: hook}})
}

// GetStats asks the loop for its counters
func (s *Scheduler) GetStats(ctx context.Context) (Stats, error) {
	resp := make(chan interface{}, 1)
	if err := s.send(ctx, InboxMessage{Type: MsgGetStats, ResponseChan: resp}); err != nil {
		return Stats{}, err
	}

	select {
	case v := <-resp:
		return v.(Stats), nil
	case <-s.done:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (s *Scheduler) send(ctx context.Context, msg InboxMessage) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	return s.inbox.Send(ctx, msg)
}

// Iterate performs one iteration of the loop
func (s *Scheduler) Iterate(ctx context.Context) {
	start := s.clock.Now()

	// Step 1: Process queued requests
	for _, msg := range s.inbox.Drain() {
		s.handleMessage(ctx, msg)
	}

	// Step 2: Front-end style trigger
	if err := s.hooks.Do(ctx, hooks.Loaded); err != nil {
		s.logger.Warn("loaded hooks failed", "error", err)
	}

	// Step 3: Fire due jobs
	s.runDueJobs(ctx, start)

	// Step 4: Maintenance on its own cadence
	if s.stats.LastMaintenance.IsZero() || start.Sub(s.stats.LastMaintenance) >= s.config.MaintenanceInterval {
		s.maintenance(ctx, start)
	}

	// Step 5: Record iteration statistics
	s.stats.Iterations++
	s.stats.LastIterationDuration = s.clock.Now().Sub(start)
}

// handleMessage dispatches messages to appropriate handlers
func (s *Scheduler) handleMessage(ctx context.Context, msg InboxMessage) {
	s.logger.Debug("handling message", "type", msg.Type.String())

	switch msg.Type {
	case MsgTriggerHook:
		data := msg.Data.(TriggerHookMsg)
		s.stats.HooksTriggered++
		if err := s.hooks.Do(ctx, data.Hook); err != nil {
			s.logger.Error("triggered hook failed", "hook", data.Hook, "error", err)
		}
	case MsgGetStats:
		if msg.ResponseChan != nil {
			stats := s.stats
			stats.Inbox = s.inbox.Stats()
			msg.ResponseChan <- stats
		}
	case MsgShutdown:
		s.stopping = true
	default:
		s.logger.Warn("unknown message type", "type", msg.Type)
	}
}

// runDueJobs fires every job whose next run has passed
func (s *Scheduler) runDueJobs(ctx context.Context, now time.Time) {
	due, err := s.jobs.Due(now)
	if err != nil {
		s.logger.Error("failed to query due jobs", "error", err)
		return
	}

	for _, job := range due {
		if ctx.Err() != nil {
			return
		}
		s.RunJob(ctx, job)
	}
}

// RunJob fires one occurrence of job, records it and moves the job to its
// next occurrence
func (s *Scheduler) RunJob(ctx context.Context, job cron.Job) error {
	runID := uuid.New().String()
	startedAt := s.clock.Now()

	if err := s.runs.CreateJobRun(&db.JobRun{
		RunID:       runID,
		Hook:        job.Hook,
		ScheduledAt: job.NextRun,
		StartedAt:   &startedAt,
		Status:      db.RunStatusRunning,
	}); err != nil {
		s.logger.Error("failed to record job run", "run_id", runID, "hook", job.Hook, "error", err)
	}

	// Move the job first so a failing hook cannot make it fire again
	// on the next iteration
	next, advanceErr := s.jobs.Advance(job)
	if errors.Is(advanceErr, cron.ErrUnknownSchedule) {
		s.stats.JobsDropped++
	} else if advanceErr != nil {
		s.logger.Error("failed to reschedule job", "hook", job.Hook, "error", advanceErr)
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	hookErr := s.hooks.Do(jobCtx, job.Hook)
	cancel()

	s.stats.JobsFired++

	var errMsg *string
	if hookErr != nil {
		s.stats.JobsFailed++
		msg := hookErr.Error()
		errMsg = &msg
		s.logger.Error("job failed", "run_id", runID, "hook", job.Hook, "error", hookErr)
	} else {
		s.logger.Debug("job completed", "run_id", runID, "hook", job.Hook, "next_run", next)
	}

	if err := s.runs.CompleteJobRun(runID, hookErr == nil, errMsg); err != nil {
		s.logger.Error("failed to complete job run", "run_id", runID, "error", err)
	}

	if hookErr != nil {
		return fmt.Errorf("job %s: %w", job.Hook, hookErr)
	}
	return nil
}

// maintenance fires AdminInit and prunes run history
func (s *Scheduler) maintenance(ctx context.Context, now time.Time) {
	s.stats.MaintenanceRuns++
	s.stats.LastMaintenance = now

	if err := s.hooks.Do(ctx, hooks.AdminInit); err != nil {
		s.logger.Warn("admin_init hooks failed", "error", err)
	}

	pruned, err := s.runs.PruneJobRuns(now.Add(-s.config.RunRetention))
	if err != nil {
		s.logger.Error("failed to prune job runs", "error", err)
		return
	}
	s.stats.RunsPruned += pruned
	if pruned > 0 {
		s.logger.Debug("pruned job runs", "count", pruned)
	}
}
