package main

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/CodedInternet/iotcar/calcs"
	"github.com/CodedInternet/iotcar/settings"
	"github.com/abiosoft/ishell/v2"
)

func percentArg(c *ishell.Context) (float64, error) {
	if len(c.Args) != 1 {
		return 0, errors.New("expected a single value from 0 to 100")
	}
	val, err := strconv.Atoi(c.Args[0])
	if err != nil {
		return 0, err
	}
	return calcs.FromInt(val), nil
}

func newShell(device Device, store *settings.Store) *ishell.Shell {
	shell := ishell.New()
	shell.Println("IoT car development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "speed",
		Help: "speed <0-100>",
		Func: func(c *ishell.Context) {
			p, err := percentArg(c)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("Setting motor to %.0f%%\n", p*100)
			if err = device.SetMotorSpeed(p); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "steer",
		Help: "steer <0-100>",
		Func: func(c *ishell.Context) {
			p, err := percentArg(c)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("Steering to %.0f%%\n", p*100)
			if err = device.SetSteering(context.Background(), p); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop the drive motor",
		Func: func(c *ishell.Context) {
			if err := device.Stop(); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "Reads the current state of the car",
		Func: func(c *ishell.Context) {
			out, _ := json.MarshalIndent(device.State(), "", "  ")
			c.Println(string(out))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "setting",
		Help:      "setting <key> <value>",
		Completer: func([]string) []string { return store.Keys() },
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(errors.New("usage: setting <key> <value>"))
				return
			}
			value, err := strconv.Atoi(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			if err = store.Set(c.Args[0], value); err != nil {
				c.Err(err)
			}
		},
	})

	return shell
}
