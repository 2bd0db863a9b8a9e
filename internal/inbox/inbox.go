// Package inbox is a bounded, typed message queue with send timeouts. The
// daemon loop owns the receiving end; anything else (signal handlers, CLI
// helpers) talks to the loop by sending into it.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when the inbox stays full for the send timeout
var ErrTimeout = errors.New("inbox: send timed out")

// Inbox is a buffered channel of T with usage statistics
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64
	maxDepth atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox holding up to bufferSize messages
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send enqueues msg, waiting up to the send timeout for room
func (ib *Inbox[T]) Send(ctx context.Context, msg T) error {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.observeDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		ib.timeouts.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return ErrTimeout
	}
}

// TryReceive returns the next message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.received.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// Drain returns every message currently queued
func (ib *Inbox[T]) Drain() []T {
	var out []T
	for {
		msg, ok := ib.TryReceive()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// C exposes the receiving end for use in a select
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// MarkReceived counts a message taken directly from C
func (ib *Inbox[T]) MarkReceived() {
	ib.received.Add(1)
}

func (ib *Inbox[T]) observeDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepth.Load()
		if depth <= seen || ib.maxDepth.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// Stats returns a snapshot of the inbox statistics
func (ib *Inbox[T]) Stats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}

// Len returns the number of queued messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}
