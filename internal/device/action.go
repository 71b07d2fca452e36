package device

import (
	"fmt"
	"strings"
)

// Action is a scheduled power action.
type Action string

const (
	ActionTurnOn  Action = "turn_on"
	ActionTurnOff Action = "turn_off"
)

// ParseAction normalises an action keyword. Matching is case-insensitive.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ActionTurnOn):
		return ActionTurnOn, nil
	case string(ActionTurnOff):
		return ActionTurnOff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// UnmarshalText normalises the action when decoding JSON or YAML.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CommandKey returns the command key that carries out the action.
func (a Action) CommandKey() CommandKey {
	if a == ActionTurnOff {
		return CommandOff
	}
	return CommandOn
}

// CommandKey selects an entry from a device or outlet command map.
type CommandKey string

const (
	CommandOn  CommandKey = "on"
	CommandOff CommandKey = "off"
)

// ParseCommandKey normalises a command keyword. Matching is case-insensitive.
func ParseCommandKey(s string) (CommandKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CommandOn):
		return CommandOn, nil
	case string(CommandOff):
		return CommandOff, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommandKey, s)
	}
}

// UnmarshalText normalises the key when decoding JSON map keys.
func (k *CommandKey) UnmarshalText(text []byte) error {
	parsed, err := ParseCommandKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
