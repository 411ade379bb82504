package onboard

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/onboard/broadcast"
	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	"github.com/CodedInternet/iotcar/onboard/hardware"
)

var logger = log.New(os.Stderr, "[onboard] ", log.LstdFlags|log.Lmicroseconds)

// Actuator is what the network side needs from the car.
type Actuator interface {
	SetMotorSpeed(p float64) error
	SetSteering(ctx context.Context, p float64) error
}

type ActuatorState struct {
	Initialised  bool    `json:"initialised"`
	MotorDuty    float64 `json:"motorDuty"`
	MotorRunning bool    `json:"motorRunning"`
	SteeringMode string  `json:"steeringMode"`
	Steering     float64 `json:"steering"` // last commanded fraction
	SteeringBusy bool    `json:"steeringBusy"`
}

type steerCommand struct {
	percent float64
	done    chan error
}

// Car owns the drive motor and steering outputs. It is the only writer of either.
//
// Motor writes apply immediately and the last one wins. Steering commands are serialised on a
// single worker: a running pulse train or settle sequence always finishes, and commands arriving
// meanwhile replace one another so only the newest runs next.
type Car struct {
	config   CarConfig
	provider hardware.Provider
	clock    hardware.Clock

	newSteering func(CarConfig, hardware.Provider, hardware.Clock) (SteeringStrategy, error)

	lock     sync.Mutex
	motor    hardware.PWMOutput
	steering SteeringStrategy
	state    ActuatorState
	closed   bool
	pending  *steerCommand

	wake   chan struct{}
	quit   chan struct{}
	worker sync.WaitGroup
	states *broadcast.Broadcaster[ActuatorState]
}

// NewCar prepares a car. No output is touched until Init.
func NewCar(config CarConfig, provider hardware.Provider, clock hardware.Clock) *Car {
	return &Car{
		config:      config,
		provider:    provider,
		clock:       clock,
		newSteering: newSteering,
		state:       ActuatorState{SteeringMode: config.Steering.Strategy.String()},
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		states:      broadcast.New[ActuatorState](broadcast.DefaultBuffer),
	}
}

// Init opens the outputs, starts the motor PWM at a zero duty cycle and starts the steering worker.
func (c *Car) Init() (err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return deverrors.ErrClosed
	}
	if c.state.Initialised {
		return nil
	}

	mc := c.config.Motor
	motor, err := c.provider.OpenPWM(mc.Chip, mc.Channel)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			motor.Close()
		}
	}()

	if err = motor.SetFrequency(mc.Frequency); err != nil {
		return
	}
	if err = motor.SetDutyCycle(0); err != nil {
		return
	}
	if err = motor.Start(); err != nil {
		return
	}

	steering, err := c.newSteering(c.config, c.provider, c.clock)
	if err != nil {
		return
	}

	c.motor = motor
	c.steering = steering
	c.state.Initialised = true
	c.state.MotorRunning = true
	c.state.SteeringMode = steering.Kind().String()

	c.worker.Add(1)
	go c.steeringWorker()

	logger.Printf("initialised motor on %s and %s steering", motor.Name(), steering.Kind())
	c.publishLocked()
	return nil
}

// SetMotorSpeed sets the motor duty cycle to p, clamped to [0, 1]. A stopped motor is restarted.
func (c *Car) SetMotorSpeed(p float64) error {
	p = calcs.Percent(p)

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return deverrors.ErrClosed
	}
	if c.motor == nil {
		return deverrors.ErrNotInitialised
	}

	if err := c.motor.SetDutyCycle(p); err != nil {
		return err
	}
	c.state.MotorDuty = p

	if !c.state.MotorRunning {
		if err := c.motor.Start(); err != nil {
			return err
		}
		c.state.MotorRunning = true
	}

	c.publishLocked()
	return nil
}

// SetSteering queues p for the steering worker and waits until it has run, or until a newer
// command replaced it before it started. ctx only bounds the wait, never the movement.
func (c *Car) SetSteering(ctx context.Context, p float64) error {
	cmd := &steerCommand{
		percent: calcs.Percent(p),
		done:    make(chan error, 1),
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return deverrors.ErrClosed
	}
	if c.steering == nil {
		c.lock.Unlock()
		return deverrors.ErrNotInitialised
	}
	if c.pending != nil {
		logger.Printf("steering %.2f superseded by %.2f", c.pending.percent, cmd.percent)
		c.pending.done <- nil
	}
	c.pending = cmd
	c.lock.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Car) steeringWorker() {
	defer c.worker.Done()

	for {
		select {
		case <-c.wake:
		case <-c.quit:
			return
		}

		for cmd := c.nextSteering(); cmd != nil; cmd = c.nextSteering() {
			err := c.steering.Apply(cmd.percent)
			if err != nil {
				logger.Printf("steering %.2f failed: %v", cmd.percent, err)
			}

			c.lock.Lock()
			c.state.SteeringBusy = false
			c.publishLocked()
			c.lock.Unlock()

			cmd.done <- err
		}
	}
}

// nextSteering takes the pending command and marks it as running.
func (c *Car) nextSteering() *steerCommand {
	c.lock.Lock()
	defer c.lock.Unlock()

	cmd := c.pending
	c.pending = nil
	if cmd != nil {
		c.state.Steering = cmd.percent
		c.state.SteeringBusy = true
		c.publishLocked()
	}
	return cmd
}

// Stop halts the motor PWM output. It is a no-op before Init.
func (c *Car) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.motor == nil || !c.state.MotorRunning {
		return nil
	}
	if err := c.motor.Stop(); err != nil {
		return err
	}
	c.state.MotorRunning = false
	c.publishLocked()
	return nil
}

func (c *Car) State() ActuatorState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// Subscribe streams state snapshots, starting with the current one.
func (c *Car) Subscribe() (id int, states <-chan ActuatorState) {
	return c.states.Subscribe()
}

func (c *Car) Unsubscribe(id int) {
	c.states.Unsubscribe(id)
}

// Close stops the motor, waits for a running steering movement to finish and releases the outputs.
func (c *Car) Close() error {
	c.Stop()

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	if c.pending != nil {
		c.pending.done <- deverrors.ErrClosed
		c.pending = nil
	}
	c.lock.Unlock()

	close(c.quit)
	c.worker.Wait()
	c.states.Close()

	var err error
	if c.steering != nil {
		err = c.steering.Close()
	}
	if c.motor != nil {
		if mErr := c.motor.Close(); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}

func (c *Car) publishLocked() {
	c.states.Publish(c.state)
}
