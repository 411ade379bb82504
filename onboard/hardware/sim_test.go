package hardware

import (
	"errors"
	deverrors "github.com/CodedInternet/iotcar/onboard/errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
	"time"
)

func TestSimDigital(t *testing.T) {
	Convey("a simulated pin records its edges", t, func() {
		p := NewSimProvider()
		out, err := p.OpenDigital(22)
		So(err, ShouldBeNil)
		pin := p.Digital(22)
		So(pin, ShouldNotBeNil)

		out.Set(true)
		time.Sleep(time.Millisecond)
		out.Set(false)
		out.Set(false)

		So(pin.Edges(), ShouldHaveLength, 2)
		So(pin.Pulses(), ShouldHaveLength, 1)
		So(pin.Pulses()[0], ShouldBeGreaterThanOrEqualTo, time.Millisecond)

		Convey("injected faults surface as pin errors", func() {
			fault := errors.New("bus fault")
			pin.Fail(fault)
			err := out.Set(true)
			So(errors.Is(err, fault), ShouldBeTrue)
		})

		Convey("the pin cannot be opened twice until closed", func() {
			_, err := p.OpenDigital(22)
			So(errors.Is(err, deverrors.ErrPinClaimed), ShouldBeTrue)

			So(out.Close(), ShouldBeNil)
			So(errors.Is(out.Set(true), deverrors.ErrClosed), ShouldBeTrue)

			_, err = p.OpenDigital(22)
			So(err, ShouldBeNil)
		})
	})
}

func TestSimPWM(t *testing.T) {
	Convey("a simulated channel tracks frequency and duty", t, func() {
		p := NewSimProvider()
		out, err := p.OpenPWM(1, 5)
		So(err, ShouldBeNil)
		pwm := p.PWM(1, 5)

		So(errors.Is(out.SetDutyCycle(0.2), deverrors.ErrNotInitialised), ShouldBeTrue)

		So(out.SetFrequency(50), ShouldBeNil)
		So(out.SetDutyCycle(0.2), ShouldBeNil)
		So(out.Start(), ShouldBeNil)

		So(pwm.Frequency(), ShouldEqual, 50)
		So(pwm.DutyCycle(), ShouldEqual, 0.2)
		So(pwm.Running(), ShouldBeTrue)
		So(pwm.History(), ShouldResemble, []float64{0.2})

		So(out.Stop(), ShouldBeNil)
		So(pwm.Running(), ShouldBeFalse)
	})
}
