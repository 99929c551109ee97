// Package clock abstracts time so services can be tested deterministically.
//
// Every service operation captures a single Now() value up front and derives
// all of its timestamps from it, so window boundaries within one operation
// never skew against each other.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// System returns the real clock.
func System() Clock { return SystemClock{} }

// TestClock is a manually advanced clock for tests.
type TestClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewTestClock creates a test clock frozen at the given time.
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{t: t}
}

// Now returns the clock's current frozen time.
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to an absolute time.
func (c *TestClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
