package trigger

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/powerlogic-core/internal/device"
)

// 2025-03-05 is a Wednesday.
func at(hour, minute, second int) time.Time {
	return time.Date(2025, time.March, 5, hour, minute, second, 0, time.UTC)
}

func weekly(action device.Action, clock string, days ...string) device.ScheduleEntry {
	return device.ScheduleEntry{Action: action, Days: days, Time: clock}
}

func oneTime(action device.Action, instant string) device.ScheduleEntry {
	return device.ScheduleEntry{Action: action, OneTimeUTC: instant}
}

func TestDue_WeeklyBoundary(t *testing.T) {
	d := &device.Device{Name: "PC", Schedule: []device.ScheduleEntry{
		weekly(device.ActionTurnOn, "09:00", "Wednesday"),
	}}

	assert.Len(t, Due(d, at(9, 0, 0)), 1, "trigger time equal to now is due")
	assert.Empty(t, Due(d, at(8, 59, 59)), "one second earlier is not due")
	assert.Len(t, Due(d, at(23, 59, 59)), 1, "weekly entries stay due for the rest of the day")
}

func TestDue_WeeklyDayMatching(t *testing.T) {
	tests := []struct {
		name string
		days []string
		want int
	}{
		{"exact", []string{"Wednesday"}, 1},
		{"lower case", []string{"wednesday"}, 1},
		{"upper case with spaces", []string{" WEDNESDAY "}, 1},
		{"other day", []string{"Tuesday"}, 0},
		{"one of several", []string{"Monday", "Wednesday", "Friday"}, 1},
		{"abbreviation does not match", []string{"Wed"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &device.Device{Schedule: []device.ScheduleEntry{weekly(device.ActionTurnOn, "08:00", tt.days...)}}
			assert.Len(t, Due(d, at(10, 0, 0)), tt.want)
		})
	}
}

func TestDue_WeeklyTimeFormats(t *testing.T) {
	tests := []struct {
		clock  string
		wantAt time.Time
		due    bool
	}{
		{"09:00", at(9, 0, 0), true},
		{"09:00:30", at(9, 0, 30), true},
		{"9:15", at(9, 15, 0), true},
		{"09:30:01", time.Time{}, false},
		{"25:00", time.Time{}, false},
		{"nine", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			d := &device.Device{Schedule: []device.ScheduleEntry{weekly(device.ActionTurnOn, tt.clock, "Wednesday")}}
			due := Due(d, at(9, 30, 0))
			if !tt.due {
				assert.Empty(t, due)
				return
			}
			require.Len(t, due, 1)
			assert.True(t, due[0].At.Equal(tt.wantAt), "At = %v, want %v", due[0].At, tt.wantAt)
		})
	}
}

func TestDue_OneTime(t *testing.T) {
	entry := oneTime(device.ActionTurnOn, "2025-03-05 09:00")
	d := &device.Device{Schedule: []device.ScheduleEntry{entry}}

	assert.Empty(t, Due(d, at(8, 59, 0)), "not due before its instant")
	assert.Len(t, Due(d, at(9, 0, 0)), 1, "due at its instant")
	assert.Len(t, Due(d, at(17, 0, 0)), 1, "still due later while not triggered")

	d.Schedule[0].HasTriggered = true
	assert.Empty(t, Due(d, at(9, 0, 0)), "never due again once triggered")
	assert.Empty(t, Due(d, at(9, 0, 0).AddDate(0, 0, 7)))
}

func TestDue_OneTimeLayouts(t *testing.T) {
	now := at(12, 0, 0)
	want := at(9, 0, 0)

	for _, s := range []string{
		"2025-03-05 09:00",
		"2025-03-05 09:00:00",
		"2025-03-05T09:00",
		"2025-03-05T09:00:00",
		"2025-03-05T09:00:00Z",
		"2025-03-05T10:00:00+01:00",
	} {
		t.Run(s, func(t *testing.T) {
			d := &device.Device{Schedule: []device.ScheduleEntry{oneTime(device.ActionTurnOff, s)}}
			due := Due(d, now)
			require.Len(t, due, 1)
			assert.True(t, due[0].At.Equal(want), "At = %v, want %v", due[0].At, want)
		})
	}

	for _, s := range []string{"", "tomorrow", "05/03/2025 09:00", "2025-13-05 09:00"} {
		t.Run("invalid "+s, func(t *testing.T) {
			d := &device.Device{Schedule: []device.ScheduleEntry{oneTime(device.ActionTurnOff, s)}}
			assert.Empty(t, Due(d, now))
		})
	}
}

func TestDue_NonUTCNowIsNormalised(t *testing.T) {
	d := &device.Device{Schedule: []device.ScheduleEntry{weekly(device.ActionTurnOn, "23:30", "Wednesday")}}

	// 2025-03-06 00:45 +01:00 is Wednesday 23:45 UTC.
	now := time.Date(2025, time.March, 6, 0, 45, 0, 0, time.FixedZone("CET", 3600))
	assert.Len(t, Due(d, now), 1)
}

func TestDue_KeepsDeclarationOrderAndIndex(t *testing.T) {
	d := &device.Device{Schedule: []device.ScheduleEntry{
		weekly(device.ActionTurnOn, "09:00", "Wednesday"),
		weekly(device.ActionTurnOn, "bad", "Wednesday"),
		oneTime(device.ActionTurnOff, "2025-03-05 08:00"),
		weekly(device.ActionTurnOff, "11:00", "Wednesday"),
	}}

	got := Due(d, at(10, 0, 0))

	want := []Trigger{
		{Index: 0, Entry: d.Schedule[0], At: at(9, 0, 0)},
		{Index: 2, Entry: d.Schedule[2], At: at(8, 0, 0)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Due() mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_LastActionWins(t *testing.T) {
	d := &device.Device{Schedule: []device.ScheduleEntry{
		weekly(device.ActionTurnOn, "09:00", "Wednesday"),
		weekly(device.ActionTurnOff, "09:05", "Wednesday"),
		weekly(device.ActionTurnOn, "09:05", "Wednesday"),
	}}

	winner, due, ok := Evaluate(d, at(9, 6, 0))

	require.True(t, ok)
	assert.Len(t, due, 3)
	assert.Equal(t, device.ActionTurnOn, winner.Entry.Action)
	assert.Equal(t, 2, winner.Index, "later declaration wins a tie")
	assert.True(t, winner.At.Equal(at(9, 5, 0)))
}

func TestEvaluate_LatestInstantBeatsDeclarationOrder(t *testing.T) {
	d := &device.Device{Schedule: []device.ScheduleEntry{
		oneTime(device.ActionTurnOff, "2025-03-05 09:30"),
		weekly(device.ActionTurnOn, "09:00", "Wednesday"),
	}}

	winner, _, ok := Evaluate(d, at(10, 0, 0))

	require.True(t, ok)
	assert.Equal(t, device.ActionTurnOff, winner.Entry.Action)
	assert.Equal(t, 0, winner.Index)
}

func TestEvaluate_NothingDue(t *testing.T) {
	_, due, ok := Evaluate(&device.Device{}, at(9, 0, 0))
	assert.False(t, ok)
	assert.Empty(t, due)

	_, _, ok = Evaluate(nil, at(9, 0, 0))
	assert.False(t, ok)
}

func TestWinner_Empty(t *testing.T) {
	_, ok := Winner(nil)
	assert.False(t, ok)
}

func TestParseClock(t *testing.T) {
	d, ok := ParseClock("07:08:09")
	require.True(t, ok)
	assert.Equal(t, 7*time.Hour+8*time.Minute+9*time.Second, d)

	_, ok = ParseClock("7 am")
	assert.False(t, ok)
}
