package comms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/onboard"
)

var logger = log.New(os.Stderr, "[comms] ", log.LstdFlags|log.Lmicroseconds)

var ErrUnsupportedMethod = errors.New("HTTP method not supported")

// Conductor turns decoded requests into actuator commands.
type Conductor struct {
	Device onboard.Actuator
}

type ConductorInterface interface {
	ProcessRequest(ctx context.Context, req Request) Response
}

func NewConductor(device onboard.Actuator) *Conductor {
	return &Conductor{Device: device}
}

// ProcessRequest applies motorSpeed then direction and answers with the static page. Any failure,
// panics included, is reported back as a diagnostic body and never escapes the request.
func (c *Conductor) ProcessRequest(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("recovered while processing %s %s: %v", req.Method, req.Path, r)
			resp = Diagnostic(fmt.Errorf("internal error: %v", r))
		}
	}()

	switch req.Method {
	case "":
		return StaticPage()
	case "GET":
	default:
		return Diagnostic(fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method))
	}

	if err := c.apply(req, ParamMotorSpeed, func(v int) error {
		return c.Device.SetMotorSpeed(calcs.FromInt(v))
	}); err != nil {
		return Diagnostic(err)
	}

	if err := c.apply(req, ParamDirection, func(v int) error {
		return c.Device.SetSteering(ctx, calcs.FromInt(v))
	}); err != nil {
		return Diagnostic(err)
	}

	return StaticPage()
}

func (c *Conductor) apply(req Request, name string, set func(int) error) error {
	if err, bad := req.Errors[name]; bad {
		return err
	}
	v, ok := req.Param(name)
	if !ok {
		return nil
	}
	if err := set(v); err != nil {
		logger.Printf("unable to apply %s=%d: %v", name, v, err)
		return fmt.Errorf("%s=%d: %w", name, v, err)
	}
	return nil
}
