package onboard

import (
	"math"
	"runtime"
	"time"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/onboard/hardware"
)

// the end of a train is spun so it finishes on its deadline rather than on timer slack
const spinTail = time.Millisecond

// Width interpolates a steering fraction onto the pulse range. p is clamped to [0, 1].
func (s PulseSpec) Width(p float64) time.Duration {
	return time.Duration(math.Round(calcs.Lerp(float64(s.MinPulse), float64(s.MaxPulse), p)))
}

func (s PulseSpec) clampWidth(width time.Duration) time.Duration {
	if width < s.MinPulse {
		return s.MinPulse
	}
	if width > s.MaxPulse {
		return s.MaxPulse
	}
	return width
}

// PulseGenerator drives a servo signal line with a bounded software pulse train.
//
// Only the high phase is busy-waited against the hardware clock; the gap between pulses is an
// ordinary sleep. Trains run on their own locked OS thread so that the spinning never starves
// goroutines serving the network.
type PulseGenerator struct {
	out   hardware.DigitalOutput
	clock hardware.Clock
	spec  PulseSpec
}

func NewPulseGenerator(out hardware.DigitalOutput, clock hardware.Clock, spec PulseSpec) *PulseGenerator {
	return &PulseGenerator{
		out:   out,
		clock: clock,
		spec:  spec,
	}
}

type trainResult struct {
	pulses int
	err    error
}

// Run sends one train of spec.Train length at the given width and blocks until it is over.
// A started train cannot be cancelled. It returns the number of complete pulses sent.
func (g *PulseGenerator) Run(width time.Duration) (pulses int, err error) {
	width = g.spec.clampWidth(width)

	done := make(chan trainResult, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		n, err := g.train(width)
		done <- trainResult{n, err}
	}()

	res := <-done
	return res.pulses, res.err
}

func (g *PulseGenerator) train(width time.Duration) (pulses int, err error) {
	deadline := g.clock.Now() + g.spec.Train

	for {
		pulseStart := g.clock.Now()
		if pulseStart+width > deadline {
			break
		}

		if err = g.out.Set(true); err != nil {
			g.out.Set(false)
			return
		}
		hardware.SpinUntil(g.clock, pulseStart+width)
		if err = g.out.Set(false); err != nil {
			return
		}
		pulses++

		gap := g.spec.Gap
		if remaining := deadline - g.clock.Now(); remaining < gap {
			gap = remaining
		}
		if gap > 0 {
			time.Sleep(gap)
		}
	}

	// hold the line low for whatever is left of the train
	if remaining := deadline - g.clock.Now(); remaining > spinTail {
		time.Sleep(remaining - spinTail)
	}
	hardware.SpinUntil(g.clock, deadline)
	return
}
