package clock

import (
	"sync"
	"time"
)

// DateLayout is the calendar day format used as the attendance day key.
const DateLayout = "2006-01-02"

// Clock abstracts the wall clock so services can be tested with a fixed time.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
	// Today returns the current calendar day in the clock's location, formatted with DateLayout.
	Today() string
}

type realClock struct {
	loc *time.Location
}

// Real returns a clock backed by time.Now, reporting days in loc (UTC when nil).
func Real(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return realClock{loc: loc}
}

func (c realClock) Now() time.Time { return time.Now().In(c.loc) }

func (c realClock) Today() string { return c.Now().Format(DateLayout) }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Today() string { return f.Now().Format(DateLayout) }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// ParseDate validates a DateLayout day string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
