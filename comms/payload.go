package comms

import (
	"time"

	"github.com/CodedInternet/iotcar/onboard"
)

type StatePayload struct {
	onboard.ActuatorState
	Settings map[string]int `json:"settings,omitempty"`
	Time     time.Time      `json:"time"`
}

func NewStatePayload(state onboard.ActuatorState, settings map[string]int) StatePayload {
	return StatePayload{ActuatorState: state, Settings: settings, Time: time.Now()}
}
