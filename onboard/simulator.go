package onboard

import "github.com/CodedInternet/iotcar/onboard/hardware"

// NewCarSimulator builds and initialises a car whose outputs only exist in memory. The provider
// is returned so callers can inspect what was written.
func NewCarSimulator(config CarConfig) (car *Car, sim *hardware.SimProvider, err error) {
	clock, err := hardware.NewClock()
	if err != nil {
		return
	}

	sim = hardware.NewSimProvider()
	car = NewCar(config, sim, clock)
	err = car.Init()
	return
}

// NewCarOnBoard drives the outputs named in config through sysfs.
func NewCarOnBoard(config CarConfig) (car *Car, err error) {
	clock, err := hardware.NewClock()
	if err != nil {
		return
	}

	car = NewCar(config, hardware.NewSysfsProvider(), clock)
	err = car.Init()
	return
}
