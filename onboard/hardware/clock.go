package hardware

import "time"

// Clock is a monotonic, high resolution time source. Now is relative to an arbitrary fixed epoch.
type Clock interface {
	Now() time.Duration
	Resolution() time.Duration
}

// SpinUntil busy-waits until the clock reaches deadline. It never yields to the scheduler.
func SpinUntil(c Clock, deadline time.Duration) {
	for c.Now() < deadline {
	}
}

// runtimeClock uses the monotonic reading carried by time.Time.
type runtimeClock struct {
	epoch time.Time
}

func (c runtimeClock) Now() time.Duration {
	return time.Since(c.epoch)
}

func (c runtimeClock) Resolution() time.Duration {
	return time.Nanosecond
}
