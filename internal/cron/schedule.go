package cron

import (
	"fmt"
	"time"
)

// Schedule is a named recurrence interval a job can reference
type Schedule struct {
	Name     string
	Interval time.Duration
	Display  string
}

// Validate checks that the schedule can be registered
func (s Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name must not be empty")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("schedule %q interval must be positive, got %v", s.Name, s.Interval)
	}
	return nil
}

// Next returns the next occurrence after a run that was due at scheduled,
// given the current time. A run that fell behind is realigned to the
// schedule's grid instead of firing repeatedly to catch up.
func (s Schedule) Next(scheduled, now time.Time) time.Time {
	if !scheduled.Before(now) {
		return scheduled.Add(s.Interval)
	}
	behind := now.Sub(scheduled) % s.Interval
	return now.Add(s.Interval - behind)
}

// BuiltinSchedules returns the schedules every host provides
func BuiltinSchedules() []Schedule {
	return []Schedule{
		{Name: "hourly", Interval: time.Hour, Display: "Once Hourly"},
		{Name: "twicedaily", Interval: 12 * time.Hour, Display: "Twice Daily"},
		{Name: "daily", Interval: 24 * time.Hour, Display: "Once Daily"},
		{Name: "weekly", Interval: 7 * 24 * time.Hour, Display: "Once Weekly"},
	}
}
