//go:build !linux

package hardware

import (
	"errors"
	"fmt"
)

var errNoSysfs = errors.New("sysfs outputs are only available on linux")

type SysfsProvider struct {
	Root string
}

func NewSysfsProvider() *SysfsProvider {
	return &SysfsProvider{}
}

func (p *SysfsProvider) OpenDigital(pin int) (DigitalOutput, error) {
	return nil, fmt.Errorf("gpio%d: %w", pin, errNoSysfs)
}

func (p *SysfsProvider) OpenPWM(chip, channel int) (PWMOutput, error) {
	return nil, fmt.Errorf("pwmchip%d/pwm%d: %w", chip, channel, errNoSysfs)
}
