// Package cron is the host's recurring-job primitive: a process-local
// registry of named schedules plus a persisted table holding at most one
// pending occurrence per hook.
//
// Schedule definitions live only in memory and are contributed again on
// every process start. Pending jobs are persisted. A job whose schedule
// disappears is dropped when it next fires, which is the failure the
// schedule guardian repairs.
package cron

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/db"
)

// ErrUnknownSchedule is returned when a job references a schedule that is
// not registered.
var ErrUnknownSchedule = errors.New("cron: unknown schedule")

// Job is the pending occurrence of a recurring hook
type Job struct {
	Hook     string
	Schedule string
	NextRun  time.Time
}

// Host is the job-scheduling capability components consume.
type Host interface {
	// RegisterSchedule contributes a schedule definition. Registering the
	// same name again replaces the definition.
	RegisterSchedule(s Schedule) error
	// Schedules returns a snapshot of all registered schedules by name.
	Schedules() map[string]Schedule
	// IsPending reports whether an occurrence of hook is scheduled.
	IsPending(hook string) (bool, error)
	// Schedule registers hook to fire at start and then every interval of
	// the named schedule. It is a no-op returning false when an occurrence
	// is already pending.
	Schedule(hook, schedule string, start time.Time) (bool, error)
	// Unschedule removes the pending occurrence of hook, if any.
	Unschedule(hook string) error
}

// Store is the persistence the host needs. *db.DB implements it.
type Store interface {
	ScheduleCronJob(job *db.CronJob) (bool, error)
	GetCronJob(hook string) (*db.CronJob, error)
	GetDueCronJobs(now time.Time) ([]db.CronJob, error)
	RescheduleCronJob(hook string, nextRun time.Time) error
	DeleteCronJob(hook string) error
}

// Registry implements Host on top of a Store
type Registry struct {
	mu        sync.RWMutex
	schedules map[string]Schedule

	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewRegistry creates a host with the builtin schedules registered
func NewRegistry(store Store, clk clock.Clock, logger *slog.Logger) *Registry {
	r := &Registry{
		schedules: make(map[string]Schedule),
		store:     store,
		clock:     clk,
		logger:    logger,
	}
	for _, s := range BuiltinSchedules() {
		r.schedules[s.Name] = s
	}
	return r
}

// RegisterSchedule contributes a schedule definition
func (r *Registry) RegisterSchedule(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.Name] = s
	return nil
}

// RemoveSchedule drops a schedule definition. Returns false if it was not
// registered.
func (r *Registry) RemoveSchedule(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[name]; !ok {
		return false
	}
	delete(r.schedules, name)
	return true
}

// Schedules returns a snapshot of the registered schedules
func (r *Registry) Schedules() map[string]Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Schedule, len(r.schedules))
	for name, s := range r.schedules {
		out[name] = s
	}
	return out
}

// ScheduleNames returns the registered schedule names, sorted
func (r *Registry) ScheduleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schedules))
	for name := range r.schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Schedule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[name]
	return s, ok
}

// IsPending reports whether an occurrence of hook is scheduled
func (r *Registry) IsPending(hook string) (bool, error) {
	_, err := r.store.GetCronJob(hook)
	if db.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up job %q: %w", hook, err)
	}
	return true, nil
}

// NextRun returns the time the pending occurrence of hook fires
func (r *Registry) NextRun(hook string) (time.Time, bool, error) {
	job, err := r.store.GetCronJob(hook)
	if db.IsNotFound(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to look up job %q: %w", hook, err)
	}
	return job.NextRun, true, nil
}

// Schedule registers hook to recur on the named schedule starting at start
func (r *Registry) Schedule(hook, schedule string, start time.Time) (bool, error) {
	if _, ok := r.lookup(schedule); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSchedule, schedule)
	}

	created, err := r.store.ScheduleCronJob(&db.CronJob{
		Hook:     hook,
		Schedule: schedule,
		NextRun:  start,
	})
	if err != nil {
		return false, fmt.Errorf("failed to schedule job %q: %w", hook, err)
	}

	if created {
		r.logger.Debug("scheduled job", "hook", hook, "schedule", schedule, "next_run", start)
	}
	return created, nil
}

// Unschedule removes the pending occurrence of hook
func (r *Registry) Unschedule(hook string) error {
	err := r.store.DeleteCronJob(hook)
	if db.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to unschedule job %q: %w", hook, err)
	}

	r.logger.Debug("unscheduled job", "hook", hook)
	return nil
}

// Due returns the jobs whose next run is at or before now
func (r *Registry) Due(now time.Time) ([]Job, error) {
	rows, err := r.store.GetDueCronJobs(now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, Job{Hook: row.Hook, Schedule: row.Schedule, NextRun: row.NextRun})
	}
	return jobs, nil
}

// Advance moves a fired job to its next occurrence. If the job's schedule
// is no longer registered the job is dropped and ErrUnknownSchedule is
// returned.
func (r *Registry) Advance(job Job) (time.Time, error) {
	s, ok := r.lookup(job.Schedule)
	if !ok {
		if err := r.Unschedule(job.Hook); err != nil {
			return time.Time{}, err
		}
		r.logger.Warn("dropped job with unknown schedule", "hook", job.Hook, "schedule", job.Schedule)
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSchedule, job.Schedule)
	}

	next := s.Next(job.NextRun, r.clock.Now())
	if err := r.store.RescheduleCronJob(job.Hook, next); err != nil {
		return time.Time{}, fmt.Errorf("failed to reschedule job %q: %w", job.Hook, err)
	}
	return next, nil
}
