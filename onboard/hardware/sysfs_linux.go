package hardware

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	"golang.org/x/sys/unix"
)

const (
	gpioRoot = "/sys/class/gpio"
	pwmRoot  = "/sys/class/pwm"

	// udev needs a moment to fix permissions on freshly exported nodes
	exportSettle = 100 * time.Millisecond
)

// claims is process wide: two providers must not hand out the same physical line.
var claims = newRegistry()

// SysfsProvider drives outputs through the kernel sysfs GPIO and PWM interfaces.
type SysfsProvider struct {
	Root string // override for tests, defaults to /sys/class
}

func NewSysfsProvider() *SysfsProvider {
	return &SysfsProvider{}
}

func (p *SysfsProvider) gpioRoot() string {
	if p.Root != "" {
		return filepath.Join(p.Root, "gpio")
	}
	return gpioRoot
}

func (p *SysfsProvider) pwmRoot() string {
	if p.Root != "" {
		return filepath.Join(p.Root, "pwm")
	}
	return pwmRoot
}

func (p *SysfsProvider) OpenDigital(pin int) (DigitalOutput, error) {
	name := fmt.Sprintf("gpio%d", pin)
	if err := claims.claim(name); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.gpioRoot(), name)
	if err := export(filepath.Join(p.gpioRoot(), "export"), dir, pin); err != nil {
		claims.release(name)
		return nil, deverrors.PinError{Pin: name, Action: "export", Err: err}
	}

	// write low before switching to output so the line never glitches high
	if err := writeFile(filepath.Join(dir, "direction"), "low"); err != nil {
		claims.release(name)
		return nil, deverrors.PinError{Pin: name, Action: "set direction", Err: err}
	}

	fd, err := unix.Open(filepath.Join(dir, "value"), unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		claims.release(name)
		return nil, deverrors.PinError{Pin: name, Action: "open", Err: err}
	}

	return &sysfsDigital{name: name, fd: fd, unexport: filepath.Join(p.gpioRoot(), "unexport"), pin: pin}, nil
}

func (p *SysfsProvider) OpenPWM(chip, channel int) (PWMOutput, error) {
	name := fmt.Sprintf("pwmchip%d/pwm%d", chip, channel)
	if err := claims.claim(name); err != nil {
		return nil, err
	}

	chipDir := filepath.Join(p.pwmRoot(), fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))
	if err := export(filepath.Join(chipDir, "export"), dir, channel); err != nil {
		claims.release(name)
		return nil, deverrors.PinError{Pin: name, Action: "export", Err: err}
	}

	return &sysfsPWM{name: name, dir: dir, unexport: filepath.Join(chipDir, "unexport"), channel: channel}, nil
}

type sysfsDigital struct {
	name     string
	fd       int
	pin      int
	unexport string
}

var (
	levelHigh = []byte("1")
	levelLow  = []byte("0")
)

func (d *sysfsDigital) Name() string {
	return d.name
}

// Set uses pwrite on the held descriptor; reopening the value file per edge costs tens of µs.
func (d *sysfsDigital) Set(high bool) error {
	val := levelLow
	if high {
		val = levelHigh
	}
	if _, err := unix.Pwrite(d.fd, val, 0); err != nil {
		return deverrors.PinError{Pin: d.name, Action: "write", Err: err}
	}
	return nil
}

func (d *sysfsDigital) Close() error {
	defer claims.release(d.name)
	unix.Pwrite(d.fd, levelLow, 0)
	if err := unix.Close(d.fd); err != nil {
		return deverrors.PinError{Pin: d.name, Action: "close", Err: err}
	}
	return writeFile(d.unexport, strconv.Itoa(d.pin))
}

type sysfsPWM struct {
	lock     sync.Mutex
	name     string
	dir      string
	unexport string
	channel  int
	period   int64 // ns
}

func (p *sysfsPWM) Name() string {
	return p.name
}

func (p *sysfsPWM) SetFrequency(hz float64) error {
	if hz <= 0 {
		return deverrors.PinError{Pin: p.name, Action: "set frequency", Err: fmt.Errorf("invalid frequency %v", hz)}
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	period := int64(math.Round(float64(time.Second) / hz))
	// the kernel rejects a period shorter than the current duty cycle
	if err := p.write("duty_cycle", "0"); err != nil {
		return err
	}
	if err := p.write("period", strconv.FormatInt(period, 10)); err != nil {
		return err
	}
	p.period = period
	return nil
}

func (p *sysfsPWM) SetDutyCycle(fraction float64) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.period == 0 {
		return deverrors.PinError{Pin: p.name, Action: "set duty cycle", Err: deverrors.ErrNotInitialised}
	}
	duty := int64(math.Round(fraction * float64(p.period)))
	return p.write("duty_cycle", strconv.FormatInt(duty, 10))
}

func (p *sysfsPWM) Start() error {
	return p.write("enable", "1")
}

func (p *sysfsPWM) Stop() error {
	return p.write("enable", "0")
}

func (p *sysfsPWM) Close() error {
	defer claims.release(p.name)
	p.Stop()
	return writeFile(p.unexport, strconv.Itoa(p.channel))
}

func (p *sysfsPWM) write(attr, val string) error {
	if err := writeFile(filepath.Join(p.dir, attr), val); err != nil {
		return deverrors.PinError{Pin: p.name, Action: "write " + attr, Err: err}
	}
	return nil
}

// export asks the kernel to create dir unless it already exists.
func export(exportFile, dir string, index int) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := writeFile(exportFile, strconv.Itoa(index)); err != nil {
		return err
	}
	time.Sleep(exportSettle)
	return nil
}

func writeFile(path, val string) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: path, Err: err}
	}
	defer unix.Close(fd)

	if _, err := unix.Write(fd, []byte(val)); err != nil {
		return &os.PathError{Op: "write", Path: path, Err: err}
	}
	return nil
}
