// Package hardware holds the physical outputs the car drives and the clock used to time them.
package hardware

import (
	"sync"

	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
)

// DigitalOutput is a single GPIO line driven high or low.
type DigitalOutput interface {
	Name() string
	Set(high bool) error
	Close() error
}

// PWMOutput is a hardware PWM channel. Duty cycles are fractions of the period in [0, 1].
type PWMOutput interface {
	Name() string
	SetFrequency(hz float64) error
	SetDutyCycle(fraction float64) error
	Start() error
	Stop() error
	Close() error
}

// Provider opens outputs. Every output may only be open once at a time.
type Provider interface {
	OpenDigital(pin int) (DigitalOutput, error)
	OpenPWM(chip, channel int) (PWMOutput, error)
}

// registry tracks which outputs are currently owned so a second open fails instead of fighting
// the first owner for the pin.
type registry struct {
	lock  sync.Mutex
	owned map[string]struct{}
}

func newRegistry() *registry {
	return &registry{owned: make(map[string]struct{})}
}

func (r *registry) claim(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.owned[name]; ok {
		return deverrors.PinError{Pin: name, Action: "claim", Err: deverrors.ErrPinClaimed}
	}
	r.owned[name] = struct{}{}
	return nil
}

func (r *registry) release(name string) {
	r.lock.Lock()
	delete(r.owned, name)
	r.lock.Unlock()
}
