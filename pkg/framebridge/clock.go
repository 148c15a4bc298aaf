package framebridge

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(delay time.Duration, callback func()) Timer
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by the time package.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) AfterFunc(delay time.Duration, callback func()) Timer {
	return time.AfterFunc(delay, callback)
}

// lane serializes every bridge entry point so handlers observe the
// single-threaded model of the host page.
type lane struct {
	mutex  sync.Mutex
	clock  Clock
	closed bool
}

func (executionLane *lane) run(callback func()) {
	executionLane.mutex.Lock()
	defer executionLane.mutex.Unlock()
	if executionLane.closed {
		return
	}
	callback()
}

// after must be called from inside run; the callback executes on the lane.
func (executionLane *lane) after(delay time.Duration, callback func()) Timer {
	return executionLane.clock.AfterFunc(delay, func() {
		executionLane.run(callback)
	})
}

func (executionLane *lane) now() time.Time {
	return executionLane.clock.Now()
}

func stopTimer(timer Timer) {
	if timer != nil {
		timer.Stop()
	}
}
