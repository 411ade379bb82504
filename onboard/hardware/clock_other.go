//go:build !linux

package hardware

import "time"

func NewClock() (Clock, error) {
	return runtimeClock{epoch: time.Now()}, nil
}
