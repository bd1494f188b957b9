package dbusif

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsid.es/alarmd"
)

func TestEventWireRoundTrip(t *testing.T) {
	ev := &alarmd.AlarmEvent{
		Cookie:  7,
		Title:   "Wake up",
		Message: "Monday practice",
		AppID:   "worldclock",

		AlarmTime: time.Date(2026, 9, 2, 7, 0, 0, 0, time.UTC),
		Template:  alarmd.EmptyTemplate(),
		Timezone:  "Europe/Madrid",

		Flags: alarmd.EventBoot | alarmd.EventShowIcon,
		Actions: []alarmd.Action{
			{
				Label:       "Stop",
				Flags:       alarmd.ActionWhenResponded | alarmd.ActionTypeExec,
				ExecCommand: "stop-alarm [COOKIE]",
			},
			{
				Label:        "Open",
				Flags:        alarmd.ActionWhenResponded | alarmd.ActionTypeBus,
				BusService:   "com.example.clock",
				BusPath:      "/com/example/clock",
				BusInterface: "com.example.clock",
				BusName:      "open_view",
				BusArgs:      []any{"alarms", int32(3)},
			},
		},
		Recurrences: []alarmd.RecurrenceRule{
			{MinuteMask: 1 << 30, HourMask: 1 << 7, WdayMask: 1 << 1},
		},
		RecurInterval: 24 * time.Hour,
		RecurCount:    5,
		SnoozeSecs:    5 * time.Minute,

		Trigger:    time.Date(2026, 9, 2, 7, 0, 0, 0, time.UTC),
		SnoozeBase: time.Date(2026, 9, 2, 6, 50, 0, 0, time.UTC),
		Response:   -1,
		State:      alarmd.StateQueued,
	}

	w := eventToWire(ev)
	assert.Equal(t, int64(ev.AlarmTime.Unix()), w.AlarmTime)
	assert.Equal(t, int64(86400), w.RecurSecs)
	assert.Equal(t, int32(300), w.SnoozeSecs)

	got := eventFromWire(w)

	// Unix conversion drops monotonic readings and locations, so compare
	// instants rather than time values.
	require.True(t, got.AlarmTime.Equal(ev.AlarmTime))
	require.True(t, got.Trigger.Equal(ev.Trigger))
	require.True(t, got.SnoozeBase.Equal(ev.SnoozeBase))
	got.AlarmTime, ev.AlarmTime = time.Time{}, time.Time{}
	got.Trigger, ev.Trigger = time.Time{}, time.Time{}
	got.SnoozeBase, ev.SnoozeBase = time.Time{}, time.Time{}
	assert.Equal(t, ev, got)
}

func TestEventWireZeroTimes(t *testing.T) {
	w := eventToWire(&alarmd.AlarmEvent{Template: alarmd.EmptyTemplate()})
	assert.Zero(t, w.AlarmTime)
	assert.Zero(t, w.Trigger)
	assert.Zero(t, w.SnoozeBase)

	got := eventFromWire(w)
	assert.True(t, got.AlarmTime.IsZero())
	assert.True(t, got.Trigger.IsZero())
	assert.True(t, got.SnoozeBase.IsZero())
}

func TestEventWireEmptyBusArgs(t *testing.T) {
	ev := &alarmd.AlarmEvent{
		Template: alarmd.EmptyTemplate(),
		Actions: []alarmd.Action{
			{Label: "Dismiss", Flags: alarmd.ActionWhenResponded},
		},
	}
	got := eventFromWire(eventToWire(ev))
	require.Len(t, got.Actions, 1)
	assert.Nil(t, got.Actions[0].BusArgs)
}
