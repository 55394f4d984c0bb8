// Package clock lets time-dependent code run against a controllable clock in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// After behaves like time.After; a non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
