package db

import "time"

// Option is a persisted key/value setting
type Option struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Plugin represents an installed plugin in the registry
type Plugin struct {
	FilePath  string // "<folder>/<main file>", e.g. "omakase-sync/omakase-sync.php"
	Name      string
	Version   string
	Active    bool
	UpdatedAt time.Time
}

// CronJob represents the single pending occurrence of a recurring hook
type CronJob struct {
	Hook      string
	Schedule  string
	NextRun   time.Time
	CreatedAt time.Time
}

// JobRun represents a single firing of a cron hook
type JobRun struct {
	RunID       string
	Hook        string
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      string
	Success     *bool
	Error       *string
}
