package scheduler

import "time"

// Clock abstracts time so sweeps and reminder scans can be driven
// deterministically in tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock returns a Clock backed by the system clock
func NewRealClock() Clock {
	return realClock{}
}

// untilNext returns the duration from now until the next occurrence of
// hour:minute in now's location. An occurrence at exactly now schedules for
// tomorrow.
func untilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
