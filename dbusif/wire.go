package dbusif

import (
	"time"

	"github.com/godbus/dbus/v5"

	"bsid.es/alarmd"
)

// Wire representations of the event model. Times travel as unix seconds
// (zero meaning unset), durations as whole seconds, so that any bus
// client can build them without knowing Go types.

type EventWire struct {
	Cookie  int32
	Title   string
	Message string
	AppID   string

	AlarmTime int64
	Second    int32
	Minute    int32
	Hour      int32
	Mday      int32
	Month     int32
	Year      int32
	Weekday   int32
	Timezone  string

	Flags       uint32
	Actions     []ActionWire
	Recurrences []RecurrenceWire
	RecurSecs   int64
	RecurCount  int32
	SnoozeSecs  int32

	Trigger    int64
	SnoozeBase int64
	Response   int32
	State      int32
}

type ActionWire struct {
	Label string
	Flags uint32

	ExecCommand string

	BusService   string
	BusPath      string
	BusInterface string
	BusName      string
	BusArgs      []dbus.Variant
}

type RecurrenceWire struct {
	MinuteMask uint64
	HourMask   uint32
	MdayMask   uint32
	WdayMask   uint32
	MonthMask  uint32
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func eventToWire(ev *alarmd.AlarmEvent) EventWire {
	w := EventWire{
		Cookie:  int32(ev.Cookie),
		Title:   ev.Title,
		Message: ev.Message,
		AppID:   ev.AppID,

		AlarmTime: unixOrZero(ev.AlarmTime),
		Second:    int32(ev.Template.Second),
		Minute:    int32(ev.Template.Minute),
		Hour:      int32(ev.Template.Hour),
		Mday:      int32(ev.Template.Mday),
		Month:     int32(ev.Template.Month),
		Year:      int32(ev.Template.Year),
		Weekday:   int32(ev.Template.Weekday),
		Timezone:  ev.Timezone,

		Flags:      uint32(ev.Flags),
		RecurSecs:  int64(ev.RecurInterval / time.Second),
		RecurCount: ev.RecurCount,
		SnoozeSecs: int32(ev.SnoozeSecs / time.Second),

		Trigger:    unixOrZero(ev.Trigger),
		SnoozeBase: unixOrZero(ev.SnoozeBase),
		Response:   ev.Response,
		State:      int32(ev.State),
	}
	for i := range ev.Actions {
		act := &ev.Actions[i]
		args := make([]dbus.Variant, len(act.BusArgs))
		for j, a := range act.BusArgs {
			args[j] = dbus.MakeVariant(a)
		}
		w.Actions = append(w.Actions, ActionWire{
			Label:        act.Label,
			Flags:        uint32(act.Flags),
			ExecCommand:  act.ExecCommand,
			BusService:   act.BusService,
			BusPath:      act.BusPath,
			BusInterface: act.BusInterface,
			BusName:      act.BusName,
			BusArgs:      args,
		})
	}
	for _, rec := range ev.Recurrences {
		w.Recurrences = append(w.Recurrences, RecurrenceWire(rec))
	}
	return w
}

func eventFromWire(w EventWire) *alarmd.AlarmEvent {
	ev := &alarmd.AlarmEvent{
		Cookie:  alarmd.Cookie(w.Cookie),
		Title:   w.Title,
		Message: w.Message,
		AppID:   w.AppID,

		AlarmTime: timeOrZero(w.AlarmTime),
		Template: alarmd.Template{
			Second:  int(w.Second),
			Minute:  int(w.Minute),
			Hour:    int(w.Hour),
			Mday:    int(w.Mday),
			Month:   int(w.Month),
			Year:    int(w.Year),
			Weekday: int(w.Weekday),
		},
		Timezone: w.Timezone,

		Flags:      alarmd.EventFlags(w.Flags),
		RecurCount: w.RecurCount,

		RecurInterval: time.Duration(w.RecurSecs) * time.Second,
		SnoozeSecs:    time.Duration(w.SnoozeSecs) * time.Second,

		Trigger:    timeOrZero(w.Trigger),
		SnoozeBase: timeOrZero(w.SnoozeBase),
		Response:   w.Response,
		State:      alarmd.State(w.State),
	}
	for _, act := range w.Actions {
		args := make([]any, len(act.BusArgs))
		for j, a := range act.BusArgs {
			args[j] = a.Value()
		}
		if len(args) == 0 {
			args = nil
		}
		ev.Actions = append(ev.Actions, alarmd.Action{
			Label:        act.Label,
			Flags:        alarmd.ActionFlags(act.Flags),
			ExecCommand:  act.ExecCommand,
			BusService:   act.BusService,
			BusPath:      act.BusPath,
			BusInterface: act.BusInterface,
			BusName:      act.BusName,
			BusArgs:      args,
		})
	}
	for _, rec := range w.Recurrences {
		ev.Recurrences = append(ev.Recurrences, alarmd.RecurrenceRule(rec))
	}
	return ev
}
