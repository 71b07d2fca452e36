package device

import (
	"fmt"
	"strings"
)

// Validation limits. Generous for a home or office installation while
// keeping a single record bounded.
const (
	maxNameLength     = 100
	maxCommandLength  = 1024
	maxDependencies   = 32
	maxScheduleLength = 128
	maxOutlets        = 64
	maxAddressLength  = 255
)

// reservedNameChars would break MQTT topic and URL path construction.
const reservedNameChars = "/+#"

// ValidateDevice performs validation on a device before it is persisted.
// Returns an error describing the first validation failure found.
//
// Schedule time strings are not checked here: an unparseable time only
// excludes that entry at evaluation.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if len(d.Address) > maxAddressLength {
		return fmt.Errorf("%w: address exceeds %d characters", ErrInvalidDevice, maxAddressLength)
	}

	if err := validateCommands(d.Commands, "commands"); err != nil {
		return err
	}

	if len(d.Dependencies) > maxDependencies {
		return fmt.Errorf("%w: more than %d dependencies", ErrInvalidDependency, maxDependencies)
	}
	for i, dep := range d.Dependencies {
		if strings.TrimSpace(dep.DependsOn) == "" {
			return fmt.Errorf("%w: dependency %d has no device name", ErrInvalidDependency, i)
		}
		if NameKey(dep.DependsOn) == NameKey(d.Name) {
			return fmt.Errorf("%w: device cannot depend on itself", ErrInvalidDependency)
		}
		if dep.DelayMinutes < 0 {
			return fmt.Errorf("%w: dependency %d has negative delay", ErrInvalidDependency, i)
		}
	}

	if len(d.Schedule) > maxScheduleLength {
		return fmt.Errorf("%w: more than %d schedule entries", ErrInvalidDevice, maxScheduleLength)
	}
	for i, entry := range d.Schedule {
		if entry.Action != ActionTurnOn && entry.Action != ActionTurnOff {
			return fmt.Errorf("schedule entry %d: %w: %q", i, ErrInvalidAction, entry.Action)
		}
	}

	if len(d.Outlets) > maxOutlets {
		return fmt.Errorf("%w: more than %d outlets", ErrInvalidOutlet, maxOutlets)
	}
	for i, o := range d.Outlets {
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("%w: outlet %d has no name", ErrInvalidOutlet, i)
		}
		if err := validateCommands(o.Commands, fmt.Sprintf("outlet %d commands", i)); err != nil {
			return err
		}
	}

	return nil
}

// ValidateName checks a device name.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if trimmed != name {
		return fmt.Errorf("%w: name has leading or trailing whitespace", ErrInvalidName)
	}
	if strings.ContainsAny(name, reservedNameChars) {
		return fmt.Errorf("%w: name must not contain any of %q", ErrInvalidName, reservedNameChars)
	}
	return nil
}

func validateCommands(cmds map[CommandKey]string, field string) error {
	for key, cmd := range cmds {
		if key != CommandOn && key != CommandOff {
			return fmt.Errorf("%s: %w: %q", field, ErrInvalidCommandKey, key)
		}
		if len(cmd) > maxCommandLength {
			return fmt.Errorf("%w: %s %q exceeds %d characters", ErrInvalidDevice, field, key, maxCommandLength)
		}
	}
	return nil
}

// Normalise canonicalises actions and command keys in place so that values
// built in code match the forms produced by decoding. Unknown values are
// left untouched for ValidateDevice to reject.
func Normalise(d *Device) {
	if d == nil {
		return
	}
	d.Commands = normaliseCommands(d.Commands)
	for i := range d.Schedule {
		if a, err := ParseAction(string(d.Schedule[i].Action)); err == nil {
			d.Schedule[i].Action = a
		}
	}
	for i := range d.Outlets {
		d.Outlets[i].Commands = normaliseCommands(d.Outlets[i].Commands)
	}
}

func normaliseCommands(cmds map[CommandKey]string) map[CommandKey]string {
	if cmds == nil {
		return nil
	}
	out := make(map[CommandKey]string, len(cmds))
	for key, cmd := range cmds {
		if k, err := ParseCommandKey(string(key)); err == nil {
			key = k
		}
		out[key] = cmd
	}
	return out
}
