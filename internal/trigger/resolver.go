package trigger

import (
	"time"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// OnTimes records the instant each device was actually switched on during
// one scheduler pass, keyed by device.NameKey. It is rebuilt every pass.
type OnTimes map[string]time.Time

// Record stores the on-instant for a device.
func (o OnTimes) Record(name string, at time.Time) {
	o[device.NameKey(name)] = at
}

// Clear forgets a device's on-instant.
func (o OnTimes) Clear(name string) {
	delete(o, device.NameKey(name))
}

// Lookup returns the recorded on-instant for a device.
func (o OnTimes) Lookup(name string) (time.Time, bool) {
	at, ok := o[device.NameKey(name)]
	return at, ok
}

// Resolve returns the earliest instant a turn-on planned for at may take
// effect: the later of at and, for each dependency that has been switched
// on, its on-instant plus the dependency delay. Dependencies without a
// recorded on-instant contribute nothing.
func Resolve(at time.Time, deps []device.Dependency, on OnTimes) time.Time {
	resolved := at
	for _, dep := range deps {
		depOn, ok := on.Lookup(dep.DependsOn)
		if !ok {
			continue
		}
		if ready := depOn.Add(dep.Delay()); ready.After(resolved) {
			resolved = ready
		}
	}
	return resolved
}
