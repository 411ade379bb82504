package onboard

import (
	"errors"
	"fmt"
	"time"

	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"
)

// CONFIG_VERSION is the range of car.yaml versions this build understands.
const CONFIG_VERSION = "^1.0.0"

type StrategyKind int

const (
	StrategyPulse StrategyKind = iota // software pulse train on a GPIO line
	StrategyPWM                       // hardware PWM with settle then release
)

var strategyNames = map[StrategyKind]string{
	StrategyPulse: "pulse",
	StrategyPWM:   "pwm",
}

func (k StrategyKind) String() string {
	if name, ok := strategyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("StrategyKind(%d)", int(k))
}

func (k StrategyKind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *StrategyKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	for kind, n := range strategyNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return deverrors.StrategyError{Name: name}
}

// PulseSpec describes the servo pulse train. It is fixed once the car is running.
type PulseSpec struct {
	MinPulse time.Duration `yaml:"min"`
	MaxPulse time.Duration `yaml:"max"`
	Gap      time.Duration `yaml:"gap"`
	Train    time.Duration `yaml:"train"`
}

var DefaultPulseSpec = PulseSpec{
	MinPulse: 700 * time.Microsecond,
	MaxPulse: 2100 * time.Microsecond,
	Gap:      5 * time.Millisecond,
	Train:    500 * time.Millisecond,
}

type MotorConfig struct {
	Chip      int     `yaml:"chip"`
	Channel   int     `yaml:"channel"`
	Frequency float64 `yaml:"frequency"`
}

type SteeringConfig struct {
	Strategy StrategyKind `yaml:"strategy"`
	Pin      int          `yaml:"pin"` // GPIO line for the pulse strategy

	// PWM strategy only
	Chip      int           `yaml:"chip"`
	Channel   int           `yaml:"channel"`
	Frequency float64       `yaml:"frequency"`
	MaxSafe   float64       `yaml:"maxSafe"` // duty cycle ceiling that avoids over-travel
	Settle    time.Duration `yaml:"settle"`
}

type ListenerConfig struct {
	Port int `yaml:"port"`
}

type CarConfig struct {
	Version  string         `yaml:"version"`
	Motor    MotorConfig    `yaml:"motor"`
	Steering SteeringConfig `yaml:"steering"`
	Pulse    PulseSpec      `yaml:"pulse"`
	Listener ListenerConfig `yaml:"listener"`
}

// DefaultConfig is the stock wiring: motor on PWM controller 1 channel 5,
// servo signal on GPIO 22.
func DefaultConfig() CarConfig {
	return CarConfig{
		Version: "1.0.0",
		Motor: MotorConfig{
			Chip:      1,
			Channel:   5,
			Frequency: 50,
		},
		Steering: SteeringConfig{
			Strategy:  StrategyPulse,
			Pin:       22,
			Chip:      1,
			Channel:   6,
			Frequency: 50,
			MaxSafe:   0.4,
			Settle:    500 * time.Millisecond,
		},
		Pulse: DefaultPulseSpec,
		Listener: ListenerConfig{
			Port: 8001,
		},
	}
}

// ParseConfig overlays the YAML document on DefaultConfig and validates the result.
func ParseConfig(data []byte) (config CarConfig, err error) {
	config = DefaultConfig()
	if err = yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("unable to unmarshal yaml: %w", err)
	}
	return config, config.Validate()
}

func (c CarConfig) Validate() error {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("config version %q: %w", c.Version, err)
	}
	constraint, err := semver.NewConstraint(CONFIG_VERSION)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return fmt.Errorf("unable to use config version %s - require %s", c.Version, CONFIG_VERSION)
	}

	if c.Motor.Frequency <= 0 {
		return errors.New("motor frequency must be positive")
	}
	if c.Pulse.MinPulse <= 0 || c.Pulse.MinPulse >= c.Pulse.MaxPulse {
		return fmt.Errorf("pulse range %v-%v is invalid", c.Pulse.MinPulse, c.Pulse.MaxPulse)
	}
	if c.Pulse.Train <= c.Pulse.MaxPulse {
		return fmt.Errorf("pulse train %v is shorter than a single pulse", c.Pulse.Train)
	}
	if c.Pulse.Gap < 0 {
		return errors.New("pulse gap cannot be negative")
	}

	switch c.Steering.Strategy {
	case StrategyPulse:
	case StrategyPWM:
		if c.Steering.MaxSafe <= 0 || c.Steering.MaxSafe > 1 {
			return fmt.Errorf("steering maxSafe %v must be within (0, 1]", c.Steering.MaxSafe)
		}
		if c.Steering.Frequency <= 0 {
			return errors.New("steering frequency must be positive")
		}
		if c.Steering.Settle < 0 {
			return errors.New("steering settle cannot be negative")
		}
	default:
		return deverrors.StrategyError{Name: c.Steering.Strategy.String()}
	}

	if c.Listener.Port <= 0 || c.Listener.Port > 65535 {
		return fmt.Errorf("listener port %d is out of range", c.Listener.Port)
	}
	return nil
}
