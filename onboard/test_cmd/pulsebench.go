//go:build linux

// Command test_cmd drives one pulse train on a real GPIO so the output can be checked on a scope.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/onboard"
	"github.com/CodedInternet/iotcar/onboard/hardware"
)

func main() {
	pin := flag.Int("pin", 22, "GPIO number to pulse")
	percent := flag.Int("percent", 50, "Steering position from 0 to 100")
	flag.Parse()

	clock, err := hardware.NewClock()
	if err != nil {
		panic(err)
	}

	out, err := hardware.NewSysfsProvider().OpenDigital(*pin)
	if err != nil {
		panic(err)
	}
	defer out.Close()

	spec := onboard.DefaultPulseSpec
	width := spec.Width(calcs.FromInt(*percent))
	generator := onboard.NewPulseGenerator(out, clock, spec)

	start := time.Now()
	pulses, err := generator.Run(width)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Sent %d pulses of %v in %v (clock resolution %v)\n",
		pulses, width, time.Since(start), clock.Resolution())
}
