// Package clock abstracts the current time so cache freshness and job
// scheduling can be driven deterministically in tests.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}
