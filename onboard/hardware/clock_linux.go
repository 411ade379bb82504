package hardware

import (
	"time"

	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	"golang.org/x/sys/unix"
)

const maxClockResolution = time.Microsecond

type monotonicClock struct {
	id  int32
	res time.Duration
}

// NewClock returns CLOCK_MONOTONIC_RAW, which is not slewed by NTP. It fails if the kernel
// cannot time single microseconds.
func NewClock() (Clock, error) {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return nil, err
	}

	res := time.Duration(ts.Nano())
	if res > maxClockResolution {
		return nil, deverrors.ErrLowResolutionClock
	}

	return &monotonicClock{id: unix.CLOCK_MONOTONIC_RAW, res: res}, nil
}

func (c *monotonicClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.id, &ts); err != nil {
		// clock_gettime cannot fail for a clock id that ClockGetres accepted
		panic(err)
	}
	return time.Duration(ts.Nano())
}

func (c *monotonicClock) Resolution() time.Duration {
	return c.res
}
