package hardware

import (
	"fmt"
	"sync"
	"time"

	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
)

// SimProvider hands out in-memory outputs that record everything written to them.
type SimProvider struct {
	claims  *registry
	lock    sync.Mutex
	digital map[int]*SimDigital
	pwm     map[string]*SimPWM
}

func NewSimProvider() *SimProvider {
	return &SimProvider{
		claims:  newRegistry(),
		digital: make(map[int]*SimDigital),
		pwm:     make(map[string]*SimPWM),
	}
}

func (p *SimProvider) OpenDigital(pin int) (DigitalOutput, error) {
	name := fmt.Sprintf("gpio%d", pin)
	if err := p.claims.claim(name); err != nil {
		return nil, err
	}

	d := &SimDigital{name: name, release: func() { p.claims.release(name) }}
	p.lock.Lock()
	p.digital[pin] = d
	p.lock.Unlock()
	return d, nil
}

func (p *SimProvider) OpenPWM(chip, channel int) (PWMOutput, error) {
	name := fmt.Sprintf("pwmchip%d/pwm%d", chip, channel)
	if err := p.claims.claim(name); err != nil {
		return nil, err
	}

	o := &SimPWM{name: name, release: func() { p.claims.release(name) }}
	p.lock.Lock()
	p.pwm[name] = o
	p.lock.Unlock()
	return o, nil
}

// Digital returns the most recently opened output for pin, or nil.
func (p *SimProvider) Digital(pin int) *SimDigital {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.digital[pin]
}

// PWM returns the most recently opened channel, or nil.
func (p *SimProvider) PWM(chip, channel int) *SimPWM {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.pwm[fmt.Sprintf("pwmchip%d/pwm%d", chip, channel)]
}

type Edge struct {
	High bool
	At   time.Time
}

type SimDigital struct {
	lock    sync.Mutex
	name    string
	high    bool
	edges   []Edge
	fail    error
	closed  bool
	release func()
}

func (d *SimDigital) Name() string {
	return d.name
}

func (d *SimDigital) Set(high bool) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return deverrors.PinError{Pin: d.name, Action: "write", Err: deverrors.ErrClosed}
	}
	if d.fail != nil {
		return deverrors.PinError{Pin: d.name, Action: "write", Err: d.fail}
	}
	if high != d.high {
		d.edges = append(d.edges, Edge{High: high, At: time.Now()})
	}
	d.high = high
	return nil
}

func (d *SimDigital) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.closed {
		d.closed = true
		d.high = false
		d.release()
	}
	return nil
}

// Fail makes every following write return err. nil restores normal operation.
func (d *SimDigital) Fail(err error) {
	d.lock.Lock()
	d.fail = err
	d.lock.Unlock()
}

func (d *SimDigital) High() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.high
}

func (d *SimDigital) Edges() []Edge {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]Edge(nil), d.edges...)
}

// Pulses returns the width of every completed high phase in order.
func (d *SimDigital) Pulses() (widths []time.Duration) {
	edges := d.Edges()
	for i := 1; i < len(edges); i++ {
		if edges[i-1].High && !edges[i].High {
			widths = append(widths, edges[i].At.Sub(edges[i-1].At))
		}
	}
	return
}

func (d *SimDigital) Reset() {
	d.lock.Lock()
	d.edges = nil
	d.lock.Unlock()
}

type SimPWM struct {
	lock    sync.Mutex
	name    string
	freq    float64
	duty    float64
	running bool
	history []float64
	fail    error
	closed  bool
	release func()
}

func (o *SimPWM) Name() string {
	return o.name
}

func (o *SimPWM) check(action string) error {
	if o.closed {
		return deverrors.PinError{Pin: o.name, Action: action, Err: deverrors.ErrClosed}
	}
	if o.fail != nil {
		return deverrors.PinError{Pin: o.name, Action: action, Err: o.fail}
	}
	return nil
}

func (o *SimPWM) SetFrequency(hz float64) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.check("set frequency"); err != nil {
		return err
	}
	if hz <= 0 {
		return deverrors.PinError{Pin: o.name, Action: "set frequency", Err: fmt.Errorf("invalid frequency %v", hz)}
	}
	o.freq = hz
	return nil
}

func (o *SimPWM) SetDutyCycle(fraction float64) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.check("set duty cycle"); err != nil {
		return err
	}
	if o.freq == 0 {
		return deverrors.PinError{Pin: o.name, Action: "set duty cycle", Err: deverrors.ErrNotInitialised}
	}
	o.duty = fraction
	o.history = append(o.history, fraction)
	return nil
}

func (o *SimPWM) Start() error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.check("start"); err != nil {
		return err
	}
	o.running = true
	return nil
}

func (o *SimPWM) Stop() error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.check("stop"); err != nil {
		return err
	}
	o.running = false
	return nil
}

func (o *SimPWM) Close() error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if !o.closed {
		o.closed = true
		o.running = false
		o.release()
	}
	return nil
}

func (o *SimPWM) Fail(err error) {
	o.lock.Lock()
	o.fail = err
	o.lock.Unlock()
}

func (o *SimPWM) Frequency() float64 {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.freq
}

func (o *SimPWM) DutyCycle() float64 {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.duty
}

func (o *SimPWM) Running() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.running
}

// History lists every duty cycle written, oldest first.
func (o *SimPWM) History() []float64 {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]float64(nil), o.history...)
}
