package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/omakase-sync/internal/testutil"
)

var testStart = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *testutil.MockClock, *testutil.TestLogger) {
	t.Helper()

	clk := testutil.NewMockClock(testStart)
	logger := testutil.NewTestLogger()
	return NewRegistry(testutil.NewTestDB(t), clk, logger.Logger()), clk, logger
}

var fiveMinutes = Schedule{Name: "every_five_minutes", Interval: 5 * time.Minute, Display: "Every Five Minutes"}

// =============================================================================
// Schedule Tests
// =============================================================================

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, fiveMinutes.Validate())
	assert.Error(t, Schedule{Name: "", Interval: time.Minute}.Validate())
	assert.Error(t, Schedule{Name: "zero", Interval: 0}.Validate())
}

func TestSchedule_Next(t *testing.T) {
	tests := []struct {
		name      string
		scheduled time.Time
		now       time.Time
		want      time.Time
	}{
		{
			name:      "on time",
			scheduled: testStart,
			now:       testStart,
			want:      testStart.Add(5 * time.Minute),
		},
		{
			name:      "slightly late stays on grid",
			scheduled: testStart,
			now:       testStart.Add(30 * time.Second),
			want:      testStart.Add(5 * time.Minute),
		},
		{
			name:      "far behind skips missed occurrences",
			scheduled: testStart,
			now:       testStart.Add(17 * time.Minute),
			want:      testStart.Add(20 * time.Minute),
		},
		{
			name:      "exactly one interval behind",
			scheduled: testStart,
			now:       testStart.Add(5 * time.Minute),
			want:      testStart.Add(10 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(fiveMinutes.Next(tt.scheduled, tt.now)),
				"got %v want %v", fiveMinutes.Next(tt.scheduled, tt.now), tt.want)
		})
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_BuiltinSchedules(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	schedules := r.Schedules()
	assert.Contains(t, schedules, "hourly")
	assert.Contains(t, schedules, "daily")
	assert.NotContains(t, schedules, fiveMinutes.Name)
}

func TestRegistry_RegisterAndRemoveSchedule(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	require.NoError(t, r.RegisterSchedule(fiveMinutes))
	assert.Equal(t, fiveMinutes, r.Schedules()[fiveMinutes.Name])
	assert.Contains(t, r.ScheduleNames(), fiveMinutes.Name)

	assert.True(t, r.RemoveSchedule(fiveMinutes.Name))
	assert.False(t, r.RemoveSchedule(fiveMinutes.Name))
	assert.NotContains(t, r.Schedules(), fiveMinutes.Name)

	assert.Error(t, r.RegisterSchedule(Schedule{Name: "bad", Interval: -time.Second}))
}

func TestRegistry_SchedulesReturnsSnapshot(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	snapshot := r.Schedules()
	delete(snapshot, "hourly")

	assert.Contains(t, r.Schedules(), "hourly")
}

func TestRegistry_ScheduleIsIdempotent(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterSchedule(fiveMinutes))

	created, err := r.Schedule("sync", fiveMinutes.Name, testStart)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Schedule("sync", fiveMinutes.Name, testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	next, ok, err := r.NextRun("sync")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, next.Equal(testStart))
}

func TestRegistry_ScheduleUnknownSchedule(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Schedule("sync", "every_five_minutes", testStart)
	assert.True(t, errors.Is(err, ErrUnknownSchedule))

	pending, err := r.IsPending("sync")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRegistry_Unschedule(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Schedule("sync", "hourly", testStart)
	require.NoError(t, err)

	require.NoError(t, r.Unschedule("sync"))
	require.NoError(t, r.Unschedule("sync"), "unscheduling a missing job is a no-op")

	pending, err := r.IsPending("sync")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRegistry_DueAndAdvance(t *testing.T) {
	r, clk, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterSchedule(fiveMinutes))

	_, err := r.Schedule("sync", fiveMinutes.Name, testStart)
	require.NoError(t, err)
	_, err = r.Schedule("daily-report", "daily", testStart.Add(time.Hour))
	require.NoError(t, err)

	due, err := r.Due(clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sync", due[0].Hook)

	clk.Advance(10 * time.Second)
	next, err := r.Advance(due[0])
	require.NoError(t, err)
	assert.True(t, next.Equal(testStart.Add(5*time.Minute)))

	due, err = r.Due(clk.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRegistry_AdvanceDropsJobWithUnknownSchedule(t *testing.T) {
	r, _, logger := newTestRegistry(t)
	require.NoError(t, r.RegisterSchedule(fiveMinutes))

	_, err := r.Schedule("sync", fiveMinutes.Name, testStart)
	require.NoError(t, err)

	r.RemoveSchedule(fiveMinutes.Name)

	_, err = r.Advance(Job{Hook: "sync", Schedule: fiveMinutes.Name, NextRun: testStart})
	assert.ErrorIs(t, err, ErrUnknownSchedule)

	pending, err := r.IsPending("sync")
	require.NoError(t, err)
	assert.False(t, pending, "job should be dropped when its schedule is gone")
	assert.True(t, logger.HasWarning())
}
