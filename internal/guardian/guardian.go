// Package guardian keeps the reporting job alive. It contributes the
// recurring schedule definition the job runs on and, whenever it is
// triggered, verifies that both the definition and a pending occurrence of
// the job exist, recreating whichever has gone missing.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/cron"
	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
)

// Defaults for the reporting job
const (
	DefaultScheduleName = "every_five_minutes"
	DefaultInterval     = 5 * time.Minute
	DefaultDisplay      = "Every Five Minutes"
	DefaultHook         = "omakase_hourly_sync_event"
	DefaultPluginFile   = "omakase-sync/omakase-sync.php"
	DefaultSampleRate   = 0.05
)

// Callback names used when attaching to the hook registry
const (
	contributeCallback = "omakase_add_five_minutes_cron"
	verifyCallback     = "omakase_verify_cron_setup"
)

// Config describes the schedule and job the guardian maintains
type Config struct {
	ScheduleName string        `toml:"schedule_name"`
	Interval     time.Duration `toml:"interval"`
	Display      string        `toml:"display"`
	Hook         string        `toml:"hook"`
	// PluginFile is the owning plugin; nothing is repaired while it is inactive
	PluginFile string `toml:"plugin_file"`
	// LoadedSampleRate is the probability a Loaded trigger runs verification
	LoadedSampleRate float64 `toml:"loaded_sample_rate"`
}

// DefaultConfig returns the five-minute reporting schedule
func DefaultConfig() Config {
	return Config{
		ScheduleName:     DefaultScheduleName,
		Interval:         DefaultInterval,
		Display:          DefaultDisplay,
		Hook:             DefaultHook,
		PluginFile:       DefaultPluginFile,
		LoadedSampleRate: DefaultSampleRate,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ScheduleName == "" {
		return fmt.Errorf("schedule_name must not be empty")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Hook == "" {
		return fmt.Errorf("hook must not be empty")
	}
	if c.PluginFile == "" {
		return fmt.Errorf("plugin_file must not be empty")
	}
	if c.LoadedSampleRate < 0 || c.LoadedSampleRate > 1 {
		return fmt.Errorf("loaded_sample_rate must be between 0 and 1, got %v", c.LoadedSampleRate)
	}
	return nil
}

// ActiveChecker reports whether a plugin is active
type ActiveChecker interface {
	IsActive(filePath string) (bool, error)
}

// RepairReport describes what a verification pass found and fixed
type RepairReport struct {
	// Skipped is set when the owning plugin is inactive
	Skipped         bool
	ScheduleMissing bool
	JobMissing      bool
	// Err joins any repairs that could not be written. The next trigger
	// retries them.
	Err error
}

// Repaired reports whether anything was recreated
func (r RepairReport) Repaired() bool {
	return r.ScheduleMissing || r.JobMissing
}

// Guardian verifies and repairs the reporting schedule and job
type Guardian struct {
	config  Config
	host    cron.Host
	plugins ActiveChecker
	clock   clock.Clock
	logger  *slog.Logger
	sample  func() bool
}

// New creates a guardian
func New(config Config, host cron.Host, plugins ActiveChecker, clk clock.Clock, logger *slog.Logger) (*Guardian, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guardian config: %w", err)
	}

	g := &Guardian{
		config:  config,
		host:    host,
		plugins: plugins,
		clock:   clk,
		logger:  logger,
	}
	g.sample = func() bool { return rand.Float64() < g.config.LoadedSampleRate }
	return g, nil
}

// SetSampler replaces the function deciding whether a Loaded trigger runs
// verification
func (g *Guardian) SetSampler(fn func() bool) {
	g.sample = fn
}

// RegisterSchedule describes the schedule the job runs on. It has no side
// effects and may be called on every invocation.
func (g *Guardian) RegisterSchedule() cron.Schedule {
	return cron.Schedule{
		Name:     g.config.ScheduleName,
		Interval: g.config.Interval,
		Display:  g.config.Display,
	}
}

// Hook returns the name of the job hook the guardian maintains
func (g *Guardian) Hook() string {
	return g.config.Hook
}

// VerifyAndRepair checks the live schedule registry and pending jobs and
// recreates whatever is missing. It does nothing while the owning plugin
// is inactive. Absence is the condition it exists to fix, so it is never
// reported as an error; failures to write a repair are logged and carried
// in the report.
func (g *Guardian) VerifyAndRepair() RepairReport {
	var report RepairReport

	active, err := g.plugins.IsActive(g.config.PluginFile)
	if err != nil {
		g.logger.Warn("failed to check plugin state, skipping cron verification",
			"plugin", g.config.PluginFile,
			"error", err)
		report.Skipped = true
		return report
	}
	if !active {
		report.Skipped = true
		return report
	}

	var errs []error

	if _, ok := g.host.Schedules()[g.config.ScheduleName]; !ok {
		report.ScheduleMissing = true
		if err := g.host.RegisterSchedule(g.RegisterSchedule()); err != nil {
			g.logger.Error("failed to re-register cron schedule",
				"schedule", g.config.ScheduleName,
				"error", err)
			errs = append(errs, fmt.Errorf("register schedule: %w", err))
		} else {
			g.logger.Warn("cron schedule was missing and has been re-registered",
				"schedule", g.config.ScheduleName)
		}
	}

	pending, err := g.host.IsPending(g.config.Hook)
	if err != nil {
		g.logger.Error("failed to check pending cron job",
			"hook", g.config.Hook,
			"error", err)
		report.Err = errors.Join(append(errs, fmt.Errorf("check job: %w", err))...)
		return report
	}

	if !pending {
		report.JobMissing = true
		if _, err := g.host.Schedule(g.config.Hook, g.config.ScheduleName, g.clock.Now()); err != nil {
			g.logger.Error("failed to re-schedule cron job",
				"hook", g.config.Hook,
				"schedule", g.config.ScheduleName,
				"error", err)
			errs = append(errs, fmt.Errorf("schedule job: %w", err))
		} else {
			g.logger.Warn("cron job was missing and has been re-scheduled",
				"hook", g.config.Hook,
				"schedule", g.config.ScheduleName)
		}
	}

	report.Err = errors.Join(errs...)
	return report
}

// Activate contributes the schedule and schedules the job to fire now,
// unless an occurrence is already pending.
func (g *Guardian) Activate() error {
	if err := g.host.RegisterSchedule(g.RegisterSchedule()); err != nil {
		return fmt.Errorf("failed to register schedule: %w", err)
	}

	created, err := g.host.Schedule(g.config.Hook, g.config.ScheduleName, g.clock.Now())
	if err != nil {
		return err
	}

	if created {
		g.logger.Info("scheduled reporting job", "hook", g.config.Hook, "schedule", g.config.ScheduleName)
	}
	return nil
}

// Deactivate removes the pending job
func (g *Guardian) Deactivate() error {
	if err := g.host.Unschedule(g.config.Hook); err != nil {
		return err
	}
	g.logger.Info("unscheduled reporting job", "hook", g.config.Hook)
	return nil
}

// Attach registers the guardian's callbacks: the schedule is contributed
// on Init, verification runs on every AdminInit and on a sampled fraction
// of Loaded triggers.
func (g *Guardian) Attach(reg *hooks.Registry) {
	reg.AddAction(hooks.Init, contributeCallback, func(context.Context) error {
		return g.host.RegisterSchedule(g.RegisterSchedule())
	})

	reg.AddAction(hooks.AdminInit, verifyCallback, func(context.Context) error {
		return g.VerifyAndRepair().Err
	})

	reg.AddAction(hooks.Loaded, verifyCallback, func(context.Context) error {
		if !g.sample() {
			return nil
		}
		return g.VerifyAndRepair().Err
	})
}
