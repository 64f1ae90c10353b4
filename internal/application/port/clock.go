package port

import "time"

// Clock supplies the current time so that time-dependent behavior is testable
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now returns the function's result
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock returns the wall-clock time in UTC
type SystemClock struct{}

// Now returns time.Now in UTC
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
