package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialised     = errors.New("actuator driver is not initialised")
	ErrPinClaimed         = errors.New("output is already claimed by this process")
	ErrLowResolutionClock = errors.New("monotonic clock resolution is coarser than 1µs")
	ErrClosed             = errors.New("actuator driver is closed")
)

// PinError reports a failed operation on a physical output.
type PinError struct {
	Pin    string
	Action string
	Err    error
}

func (err PinError) Error() string {
	if len(err.Action) == 0 {
		err.Action = "UNKNOWN"
	}
	return fmt.Sprintf("output %s: unable to %s: %v", err.Pin, err.Action, err.Err)
}

func (err PinError) Unwrap() error {
	return err.Err
}

type StrategyError struct {
	Name string
}

func (err StrategyError) Error() string {
	return fmt.Sprintf("unknown steering strategy %q", err.Name)
}
