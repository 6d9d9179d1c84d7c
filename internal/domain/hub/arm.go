// Package hub holds the security-hub resource model: arm-state commands,
// upstream resource paths, and the field mapping applied to upstream payloads.
package hub

import (
	"errors"
	"fmt"
)

// ArmState is the provider-neutral arm state requested by clients.
type ArmState int

const (
	// ArmStateDisarmed turns the security mode off.
	ArmStateDisarmed ArmState = iota
	// ArmStateArmed arms every zone.
	ArmStateArmed
	// ArmStateNightMode arms the zones flagged for night mode.
	ArmStateNightMode
)

// ErrInvalidArmState is returned for arm state values outside the enum.
var ErrInvalidArmState = errors.New("invalid arm state")

var armCommands = map[ArmState]string{
	ArmStateDisarmed:  "DISARM",
	ArmStateArmed:     "ARM",
	ArmStateNightMode: "NIGHT_MODE_ON",
}

// Command returns the upstream command token for the state.
func (s ArmState) Command() (string, error) {
	cmd, ok := armCommands[s]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidArmState, int(s))
	}
	return cmd, nil
}

func (s ArmState) String() string {
	switch s {
	case ArmStateDisarmed:
		return "DISARMED"
	case ArmStateArmed:
		return "ARMED"
	case ArmStateNightMode:
		return "NIGHT_MODE"
	default:
		return fmt.Sprintf("ArmState(%d)", int(s))
	}
}

// ArmingCommand is the body of an arming command request.
type ArmingCommand struct {
	Command        string `json:"command"`
	IgnoreProblems bool   `json:"ignoreProblems"`
}

// NewArmingCommand builds the upstream body for state. Problems reported by
// the hub (open doors, low battery) never block the command.
func NewArmingCommand(state ArmState) (ArmingCommand, error) {
	cmd, err := state.Command()
	if err != nil {
		return ArmingCommand{}, err
	}
	return ArmingCommand{Command: cmd, IgnoreProblems: true}, nil
}
