package device

import (
	"maps"
	"strings"
	"time"
)

// PowerStripType is the device type that exposes individually switched outlets.
const PowerStripType = "power_strip"

// Device is a networked appliance under power control.
// This matches the devices table in migrations/20260301_090000_devices.up.sql.
type Device struct {
	// Name is the identity key, unique case-insensitively.
	Name string `json:"name"`

	// Type is a free-form tag. Only PowerStripType has meaning to the core.
	Type string `json:"type"`

	// Address is host[:port] used by network probes. Optional.
	Address string `json:"address,omitempty"`

	// IsOnline is written only by the liveness monitor.
	IsOnline bool `json:"is_online"`

	// Commands maps a command key to the opaque command string sent to the device.
	Commands map[CommandKey]string `json:"commands,omitempty"`

	// Dependencies are other devices that must be on before this one powers up.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Schedule entries in declaration order. Order only breaks ties.
	Schedule []ScheduleEntry `json:"schedule,omitempty"`

	// Outlets are only populated for power strips.
	Outlets []Outlet `json:"outlets,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dependency delays a device's turn-on until another device has been on
// for DelayMinutes.
type Dependency struct {
	// DependsOn names another device. A name that resolves to nothing is
	// valid and never delays anything.
	DependsOn    string `json:"depends_on"`
	DelayMinutes int    `json:"delay_minutes"`
}

// Delay returns DelayMinutes as a Duration.
func (d Dependency) Delay() time.Duration {
	return time.Duration(d.DelayMinutes) * time.Minute
}

// ScheduleEntry is one timed power action.
//
// An entry with Days set is weekly: it fires every listed weekday at Time
// ("15:04" or "15:04:05"). An entry without Days is one-time: it fires once
// at OneTimeUTC and then HasTriggered latches true.
type ScheduleEntry struct {
	Action       Action   `json:"action"`
	Days         []string `json:"days,omitempty"`
	Time         string   `json:"time,omitempty"`
	OneTimeUTC   string   `json:"one_time_utc,omitempty"`
	HasTriggered bool     `json:"has_triggered,omitempty"`
}

// IsOneTime reports whether the entry is the one-time form.
func (e ScheduleEntry) IsOneTime() bool {
	return len(e.Days) == 0
}

// SameOneTime reports whether e and other are the same one-time instruction.
// HasTriggered is ignored.
func (e ScheduleEntry) SameOneTime(other ScheduleEntry) bool {
	return e.IsOneTime() && other.IsOneTime() &&
		e.Action == other.Action &&
		e.OneTimeUTC == other.OneTimeUTC
}

// Outlet is one switched socket of a power strip.
type Outlet struct {
	Name string `json:"name"`

	// IsOn is written only by dispatch.
	IsOn bool `json:"is_on"`

	// Commands override the parent device's commands for this outlet.
	Commands map[CommandKey]string `json:"commands,omitempty"`
}

// IsPowerStrip reports whether the device has individually switched outlets.
func (d *Device) IsPowerStrip() bool {
	return strings.EqualFold(d.Type, PowerStripType)
}

// DependsOnDevice reports whether name appears in the device's dependencies.
func (d *Device) DependsOnDevice(name string) bool {
	for _, dep := range d.Dependencies {
		if strings.EqualFold(dep.DependsOn, name) {
			return true
		}
	}
	return false
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Commands = maps.Clone(d.Commands)

	if d.Dependencies != nil {
		cpy.Dependencies = make([]Dependency, len(d.Dependencies))
		copy(cpy.Dependencies, d.Dependencies)
	}

	if d.Schedule != nil {
		cpy.Schedule = make([]ScheduleEntry, len(d.Schedule))
		for i, e := range d.Schedule {
			e.Days = cloneStrings(e.Days)
			cpy.Schedule[i] = e
		}
	}

	if d.Outlets != nil {
		cpy.Outlets = make([]Outlet, len(d.Outlets))
		for i, o := range d.Outlets {
			o.Commands = maps.Clone(o.Commands)
			cpy.Outlets[i] = o
		}
	}

	return &cpy
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// NameKey returns the case-insensitive identity key for a device name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
