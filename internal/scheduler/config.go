package scheduler

import (
	"fmt"
	"time"
)

// SchedulerConfig defines configuration for the daemon loop
type SchedulerConfig struct {
	// Main loop iteration interval; Loaded fires once per iteration
	LoopInterval time.Duration `toml:"loop_interval"`

	// How often AdminInit fires and old run history is pruned
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`

	// How long job run history is kept
	RunRetention time.Duration `toml:"run_retention"`

	// Upper bound on a single job's hooks
	JobTimeout time.Duration `toml:"job_timeout"`

	// Inbox buffer size
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// Timeout for sending to inbox
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultSchedulerConfig returns scheduler configuration defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		LoopInterval:        5 * time.Second,
		MaintenanceInterval: 1 * time.Minute,
		RunRetention:        7 * 24 * time.Hour,
		JobTimeout:          2 * time.Minute,
		InboxBufferSize:     100,
		InboxSendTimeout:    5 * time.Second,
	}
}

// Validate returns an error if the configuration is unusable
func (c SchedulerConfig) Validate() error {
	if c.LoopInterval <= 0 {
		return fmt.Errorf("LoopInterval must be positive, got %v", c.LoopInterval)
	}

	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("MaintenanceInterval must be positive, got %v", c.MaintenanceInterval)
	}

	if c.MaintenanceInterval < c.LoopInterval {
		return fmt.Errorf("MaintenanceInterval (%v) must not be shorter than LoopInterval (%v)",
			c.MaintenanceInterval, c.LoopInterval)
	}

	if c.RunRetention <= 0 {
		return fmt.Errorf("RunRetention must be positive, got %v", c.RunRetention)
	}

	if c.JobTimeout <= 0 {
		return fmt.Errorf("JobTimeout must be positive, got %v", c.JobTimeout)
	}

	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", c.InboxBufferSize)
	}

	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("InboxSendTimeout must be positive, got %v", c.InboxSendTimeout)
	}

	return nil
}
