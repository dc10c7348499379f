// Package scheduler provides the timer capability used by the rolling window
// sweep and lockdown expiry. Production code runs on robfig/cron and
// time.AfterFunc; tests drive a Virtual clock by hand.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CancelFunc stops a scheduled task. Calling it more than once is safe.
type CancelFunc func()

// Scheduler schedules callbacks and reports the current time.
type Scheduler interface {
	Now() time.Time
	// After runs fn once when d has elapsed.
	After(d time.Duration, fn func()) CancelFunc
	// Every runs fn each time d elapses until cancelled.
	Every(d time.Duration, fn func()) CancelFunc
}

// Real is the wall-clock scheduler. Periodic jobs share one cron runner.
type Real struct {
	cron *cron.Cron
	once sync.Once
}

// NewReal creates a wall-clock scheduler. Call Stop on shutdown.
func NewReal() *Real {
	return &Real{cron: cron.New()}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

func (r *Real) After(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Every registers fn on the cron runner. cron.Every rounds d down to whole
// seconds with a one second minimum.
func (r *Real) Every(d time.Duration, fn func()) CancelFunc {
	r.once.Do(r.cron.Start)
	id := r.cron.Schedule(cron.Every(d), cron.FuncJob(fn))
	var cancelOnce sync.Once
	return func() {
		cancelOnce.Do(func() { r.cron.Remove(id) })
	}
}

// Stop halts the cron runner and waits for running jobs to finish.
func (r *Real) Stop() {
	<-r.cron.Stop().Done()
}
