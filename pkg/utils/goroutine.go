// Package utils holds test helpers shared across packages.
package utils

import (
	"runtime"
	"time"
)

// Reporter is the subset of testing.TB the leak detector reports through
type Reporter interface {
	Helper()
	Errorf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// GoroutineLeakDetector checks that a test returns the goroutine count to
// where it started. Fan-out code that forgets to join its workers shows up
// as growth.
type GoroutineLeakDetector struct {
	t             Reporter
	initialCount  int
	allowedGrowth int
	checkInterval time.Duration
	timeout       time.Duration
}

// NewGoroutineLeakDetector creates a new goroutine leak detector
func NewGoroutineLeakDetector(t Reporter) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:             t,
		checkInterval: 20 * time.Millisecond,
		timeout:       2 * time.Second,
	}
}

// Start records the initial goroutine count
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check polls until the goroutine count is back within the allowed growth
// or the timeout expires, in which case it reports a leak with every stack.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	deadline := time.Now().Add(d.timeout)
	count := runtime.NumGoroutine()
	for count-d.initialCount > d.allowedGrowth && time.Now().Before(deadline) {
		time.Sleep(d.checkInterval)
		count = runtime.NumGoroutine()
	}

	leaked := count - d.initialCount
	if leaked <= d.allowedGrowth {
		return
	}

	d.t.Errorf("goroutine leak detected: started with %d, ended with %d (leaked: %d, allowed: %d)",
		d.initialCount, count, leaked, d.allowedGrowth)

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	d.t.Logf("current goroutine stack traces:\n%s", buf[:n])
}

// SetAllowedGrowth sets the number of goroutines allowed to grow
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetTimeout sets how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.timeout = timeout
	return d
}
