// Package device sends on/off commands to groups of devices. Commands are
// best effort: delivery is not confirmed and repeating a command a device
// already honours is harmless.
package device

import (
	"context"
	"encoding/json"
)

// Action is a device command kind
type Action int

const (
	ActionOn Action = iota
	ActionOff
)

// String returns the action name for logging
func (a Action) String() string {
	if a == ActionOn {
		return "on"
	}
	return "off"
}

// Commander sends a command to every member of a device group.
// brightness applies to on-commands only; pass a negative value to omit it.
type Commander interface {
	Send(ctx context.Context, members []string, action Action, brightness int) error
}

// command is the wire payload for a single device set message. Brightness is
// a pointer so the valid value 0 still makes it onto the wire.
type command struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
}

// encodeCommand builds the JSON payload for one device
func encodeCommand(action Action, brightness int) ([]byte, error) {
	cmd := command{State: "OFF"}
	if action == ActionOn {
		cmd.State = "ON"
		if brightness >= 0 {
			cmd.Brightness = &brightness
		}
	}
	return json.Marshal(cmd)
}
