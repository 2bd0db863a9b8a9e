package scheduler

import (
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/inbox"
)

// InboxMessage is the container for all messages sent to the scheduler
type InboxMessage struct {
	Type         MessageType
	Data         interface{}
	ResponseChan chan<- interface{} // Optional, for request/response pattern
}

// MessageType identifies the type of message being sent to the scheduler
type MessageType int

const (
	MsgTriggerHook MessageType = iota // Fire a hook on the loop goroutine
	MsgGetStats                       // Request scheduler statistics
	MsgShutdown                       // Stop the loop
)

// String returns a human-readable representation of the message type
func (m MessageType) String() string {
	switch m {
	case MsgTriggerHook:
		return "trigger_hook"
	case MsgGetStats:
		return "get_stats"
	case MsgShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// TriggerHookMsg asks the loop to fire a hook
type TriggerHookMsg struct {
	Hook string
}

// Stats are counters kept by the loop
type Stats struct {
	Iterations            int64
	JobsFired             int64
	JobsFailed            int64
	JobsDropped           int64
	HooksTriggered        int64
	MaintenanceRuns       int64
	RunsPruned            int64
	LastIterationDuration time.Duration
	LastMaintenance       time.Time
	Inbox                 inbox.Stats
}
