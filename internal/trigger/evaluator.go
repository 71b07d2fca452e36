package trigger

import (
	"strings"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// Weekly entry time layouts.
var clockLayouts = []string{"15:04", "15:04:05"}

// OneTimeLayouts are the accepted layouts for a one-time entry's instant.
// Layouts without a zone are read as UTC.
var OneTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// Trigger is a due schedule entry with its concrete trigger instant.
type Trigger struct {
	// Index is the entry's position in the device schedule.
	Index int
	Entry device.ScheduleEntry
	At    time.Time
}

// Due returns every schedule entry of d that is due at now, in declaration
// order. Entries whose time cannot be parsed are skipped.
//
// A weekly entry is due when now falls on one of its days and today's
// trigger time is at or before now; it stays due for the rest of that day.
// A one-time entry is due when it has not triggered and its instant is at
// or before now.
func Due(d *device.Device, now time.Time) []Trigger {
	if d == nil {
		return nil
	}
	now = now.UTC()

	var due []Trigger
	for i, entry := range d.Schedule {
		at, ok := triggerInstant(entry, now)
		if !ok || at.After(now) {
			continue
		}
		due = append(due, Trigger{Index: i, Entry: entry, At: at})
	}
	return due
}

// Winner picks the governing trigger: the latest instant wins, and on an
// identical instant the entry declared later wins.
func Winner(due []Trigger) (Trigger, bool) {
	if len(due) == 0 {
		return Trigger{}, false
	}
	best := due[0]
	for _, t := range due[1:] {
		if t.At.After(best.At) || (t.At.Equal(best.At) && t.Index > best.Index) {
			best = t
		}
	}
	return best, true
}

// Evaluate returns the due set and its winner. ok is false when nothing is due.
func Evaluate(d *device.Device, now time.Time) (winner Trigger, due []Trigger, ok bool) {
	due = Due(d, now)
	winner, ok = Winner(due)
	return winner, due, ok
}

func triggerInstant(entry device.ScheduleEntry, now time.Time) (time.Time, bool) {
	if entry.IsOneTime() {
		if entry.HasTriggered {
			return time.Time{}, false
		}
		return ParseOneTime(entry.OneTimeUTC)
	}

	if !onWeekday(entry.Days, now.Weekday()) {
		return time.Time{}, false
	}
	clock, ok := ParseClock(entry.Time)
	if !ok {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(clock), true
}

func onWeekday(days []string, wd time.Weekday) bool {
	for _, day := range days {
		if strings.EqualFold(strings.TrimSpace(day), wd.String()) {
			return true
		}
	}
	return false
}

// ParseClock parses an "HH:mm" or "HH:mm:ss" time of day into the offset
// from midnight.
func ParseClock(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// ParseOneTime parses a one-time entry's instant under OneTimeLayouts.
func ParseOneTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range OneTimeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
