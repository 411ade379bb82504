package onboard

import (
	"time"

	"github.com/CodedInternet/iotcar/calcs"
	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	"github.com/CodedInternet/iotcar/onboard/hardware"
)

// SteeringStrategy moves the steering servo. Apply blocks until the output has been released
// and is never called concurrently by Car.
type SteeringStrategy interface {
	Kind() StrategyKind
	Apply(p float64) error
	Close() error
}

// SoftwarePulse bit-bangs servo pulses on a plain GPIO line.
type SoftwarePulse struct {
	out  hardware.DigitalOutput
	gen  *PulseGenerator
	spec PulseSpec
}

func NewSoftwarePulse(out hardware.DigitalOutput, clock hardware.Clock, spec PulseSpec) *SoftwarePulse {
	return &SoftwarePulse{
		out:  out,
		gen:  NewPulseGenerator(out, clock, spec),
		spec: spec,
	}
}

func (s *SoftwarePulse) Kind() StrategyKind {
	return StrategyPulse
}

func (s *SoftwarePulse) Apply(p float64) error {
	width := s.spec.Width(p)
	pulses, err := s.gen.Run(width)
	logger.Printf("steering %.2f: %d pulses of %v on %s", p, pulses, width, s.out.Name())
	return err
}

func (s *SoftwarePulse) Close() error {
	return s.out.Close()
}

// DirectPwm drives the servo from a hardware PWM channel, holding the position for the settle
// delay and then dropping the duty cycle to zero.
type DirectPwm struct {
	out     hardware.PWMOutput
	maxSafe float64
	settle  time.Duration
}

// NewDirectPwm configures out at hz and starts it with a zero duty cycle.
func NewDirectPwm(out hardware.PWMOutput, hz, maxSafe float64, settle time.Duration) (*DirectPwm, error) {
	if err := out.SetFrequency(hz); err != nil {
		return nil, err
	}
	if err := out.SetDutyCycle(0); err != nil {
		return nil, err
	}
	if err := out.Start(); err != nil {
		return nil, err
	}
	return &DirectPwm{out: out, maxSafe: maxSafe, settle: settle}, nil
}

func (s *DirectPwm) Kind() StrategyKind {
	return StrategyPWM
}

func (s *DirectPwm) Apply(p float64) error {
	duty := calcs.Percent(p) * s.maxSafe
	if err := s.out.SetDutyCycle(duty); err != nil {
		return err
	}
	time.Sleep(s.settle)
	return s.out.SetDutyCycle(0)
}

func (s *DirectPwm) Close() error {
	s.out.Stop()
	return s.out.Close()
}

func newSteering(config CarConfig, provider hardware.Provider, clock hardware.Clock) (SteeringStrategy, error) {
	sc := config.Steering
	switch sc.Strategy {
	case StrategyPulse:
		out, err := provider.OpenDigital(sc.Pin)
		if err != nil {
			return nil, err
		}
		if err := out.Set(false); err != nil {
			out.Close()
			return nil, err
		}
		return NewSoftwarePulse(out, clock, config.Pulse), nil

	case StrategyPWM:
		out, err := provider.OpenPWM(sc.Chip, sc.Channel)
		if err != nil {
			return nil, err
		}
		s, err := NewDirectPwm(out, sc.Frequency, sc.MaxSafe, sc.Settle)
		if err != nil {
			out.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, deverrors.StrategyError{Name: sc.Strategy.String()}
	}
}
