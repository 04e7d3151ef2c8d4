package core

import "time"

// Clock abstracts wall-clock access so that time-based state (typing expiry,
// last-seen) can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
