// Package alarmd contains the data model and pure scheduling logic of the
// alarm daemon: alarm events, their lifecycle states, recurrence rules and
// the trigger time calculator. The state machine that drives events through
// their lifecycle lives in the server package; event storage lives in the
// mem and sqlite packages.
package alarmd

import (
	"strconv"
	"time"
)

// Cookie identifies a stored alarm event. Zero is never a valid cookie.
type Cookie int32

func (c Cookie) String() string { return strconv.Itoa(int(c)) }

// State is the lifecycle state of an alarm event.
type State int32

const (
	StateNew State = iota
	StateWaitConn
	StateQueued
	StateMissed
	StatePostponed
	StateLimbo
	StateTriggered
	StateWaitSysUI
	StateSysUIReq
	StateSysUIAck
	StateSysUIRsp
	StateSnoozed
	StateServed
	StateRecurring
	StateDeleted

	stateCount
)

var stateNames = [...]string{
	"NEW", "WAITCONN", "QUEUED", "MISSED", "POSTPONED", "LIMBO",
	"TRIGGERED", "WAITSYSUI", "SYSUI_REQ", "SYSUI_ACK", "SYSUI_RSP",
	"SNOOZED", "SERVED", "RECURRING", "DELETED",
}

func (s State) String() string {
	if s < 0 || s >= stateCount {
		return "INVALID"
	}
	return stateNames[s]
}

// Valid reports whether s is one of the defined lifecycle states.
func (s State) Valid() bool {
	return s >= 0 && s < stateCount
}

// EventFlags configure how an event behaves while it travels through the
// state machine.
type EventFlags uint32

const (
	// EventBoot marks an alarm that must boot the device to the desktop.
	EventBoot EventFlags = 1 << iota

	// EventActDead marks an alarm that must boot the device to acting
	// dead mode and may trigger while the device is in it.
	EventActDead

	// EventShowIcon makes the alarm count towards the statusbar icon.
	EventShowIcon

	// EventConnected holds the alarm until network connectivity exists.
	EventConnected

	// EventRunDelayed triggers the alarm normally even when it was
	// missed by more than the missed limit.
	EventRunDelayed

	// EventPostponeDelayed moves a missed alarm to the next day instead
	// of triggering it.
	EventPostponeDelayed

	// EventDisableDelayed disables a missed alarm. The event becomes
	// invisible to the state machine but stays in the queue until the
	// owning application deletes or re-enables it.
	EventDisableDelayed

	// EventBackReschedule recomputes the trigger time when the system
	// clock is moved backwards.
	EventBackReschedule

	// EventDisabled hides the event from the state machine.
	EventDisabled
)

// ActionFlags describe when an action fires and what it does. The low bits
// form the "when" mask, the middle bits the "type" mask, the high bits are
// type-specific modifiers.
type ActionFlags uint32

const (
	ActionWhenQueued ActionFlags = 1 << iota
	ActionWhenTriggered
	ActionWhenDelayed
	ActionWhenResponded
	ActionWhenDisabled
	ActionWhenDeleted

	ActionTypeSnooze
	ActionTypeDisable
	ActionTypeExec
	ActionTypeBus
	ActionTypeDesktop
	ActionTypeActDead

	// ActionExecAddCookie substitutes the event cookie into the command
	// line, either for a "[COOKIE]" tag or appended as a last argument.
	ActionExecAddCookie

	// ActionBusAddCookie appends the event cookie to the message args.
	ActionBusAddCookie

	// ActionBusSystemBus sends the message on the system bus instead of
	// the session bus.
	ActionBusSystemBus

	// ActionBusAutoStart allows bus activation of the destination.
	ActionBusAutoStart
)

const (
	ActionWhenMask = ActionWhenQueued | ActionWhenTriggered |
		ActionWhenDelayed | ActionWhenResponded |
		ActionWhenDisabled | ActionWhenDeleted

	ActionTypeMask = ActionTypeSnooze | ActionTypeDisable |
		ActionTypeExec | ActionTypeBus |
		ActionTypeDesktop | ActionTypeActDead
)

// Action is one entry in an event's action list.
type Action struct {
	Label string      `json:"label,omitempty"`
	Flags ActionFlags `json:"flags"`

	// Exec payload.
	ExecCommand string `json:"exec_command,omitempty"`

	// Message bus payload. Empty BusService means the action emits a
	// signal instead of calling a method.
	BusService   string `json:"bus_service,omitempty"`
	BusPath      string `json:"bus_path,omitempty"`
	BusInterface string `json:"bus_interface,omitempty"`
	BusName      string `json:"bus_name,omitempty"`
	BusArgs      []any  `json:"bus_args,omitempty"`
}

// When returns the "when" portion of the action flags.
func (a *Action) When() ActionFlags { return a.Flags & ActionWhenMask }

// Type returns the "type" portion of the action flags.
func (a *Action) Type() ActionFlags { return a.Flags & ActionTypeMask }

// IsButton reports whether the action shows up as a dialog button: it has
// a label and fires on user response.
func (a *Action) IsButton() bool {
	return a.Label != "" && a.Flags&ActionWhenResponded != 0
}

// TemplateUnset marks an unspecified broken-down time field.
const TemplateUnset = -1

// Template is a broken-down alarm time where any field may be left
// unspecified. An unspecified field either inherits the current time
// (fully qualified templates) or acts as a wildcard during recurrence
// alignment.
type Template struct {
	Second  int `json:"second"`
	Minute  int `json:"minute"`
	Hour    int `json:"hour"`
	Mday    int `json:"mday"`  // day of month, 1..31
	Month   int `json:"month"` // 1..12
	Year    int `json:"year"`
	Weekday int `json:"weekday"` // 0..6, Sunday = 0
}

// EmptyTemplate returns a template with every field unspecified.
func EmptyTemplate() Template {
	return Template{
		Second:  TemplateUnset,
		Minute:  TemplateUnset,
		Hour:    TemplateUnset,
		Mday:    TemplateUnset,
		Month:   TemplateUnset,
		Year:    TemplateUnset,
		Weekday: TemplateUnset,
	}
}

// FullyQualified reports whether the template pins down one wall-clock
// instant: minute, hour, day, month and year are all specified. The
// weekday does not participate; it is ignored on a fully qualified
// template.
func (t Template) FullyQualified() bool {
	return t.Minute >= 0 && t.Hour >= 0 && t.Mday >= 0 &&
		t.Month >= 0 && t.Year >= 0
}

// Rule converts the specified template fields into single-bit recurrence
// masks. Unspecified fields stay wildcards.
func (t Template) Rule() RecurrenceRule {
	var r RecurrenceRule
	if t.Minute >= 0 {
		r.MinuteMask = 1 << uint(t.Minute)
	}
	if t.Hour >= 0 {
		r.HourMask = 1 << uint(t.Hour)
	}
	if t.Weekday >= 0 {
		r.WdayMask = 1 << uint(t.Weekday)
	}
	if t.Mday >= 0 {
		r.MdayMask = 1 << uint(t.Mday)
	}
	if t.Month >= 0 {
		r.MonthMask = 1 << uint(t.Month)
	}
	return r
}

// Time converts a fully qualified template to a wall-clock instant in loc.
func (t Template) Time(loc *time.Location) time.Time {
	sec := t.Second
	if sec < 0 {
		sec = 0
	}
	return time.Date(t.Year, time.Month(t.Month), t.Mday, t.Hour, t.Minute, sec, 0, loc)
}

// MinSnooze is the smallest accepted snooze interval.
const MinSnooze = 10 * time.Second

// AlarmEvent is one alarm owned by the queue. The server borrows and
// mutates events during evaluation passes; all other access goes through
// the queue.
type AlarmEvent struct {
	Cookie Cookie `json:"cookie"`

	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
	AppID   string `json:"app_id,omitempty"`

	// Alarm time: either an absolute instant, or a broken-down template
	// used when AlarmTime is zero.
	AlarmTime time.Time `json:"alarm_time,omitempty"`
	Template  Template  `json:"template"`

	// Timezone override; empty means the system default zone.
	Timezone string `json:"timezone,omitempty"`

	Flags   EventFlags `json:"flags"`
	Actions []Action   `json:"actions,omitempty"`

	// Recurrence: either a fixed interval, or a set of alignment rules.
	Recurrences   []RecurrenceRule `json:"recurrences,omitempty"`
	RecurInterval time.Duration    `json:"recur_interval,omitempty"`

	// RecurCount is the remaining occurrence budget; zero or negative
	// means unlimited.
	RecurCount int32 `json:"recur_count,omitempty"`

	// SnoozeSecs overrides the queue-wide default snooze when positive.
	SnoozeSecs time.Duration `json:"snooze_secs,omitempty"`

	// Server-owned bookkeeping.
	Trigger    time.Time `json:"trigger"`
	SnoozeBase time.Time `json:"snooze_base,omitempty"`
	Response   int32     `json:"response"`
	State      State     `json:"state"`
}

// Clone returns a copy of the event that shares no mutable state with the
// original. Used to hand event snapshots across the queue boundary.
func (e *AlarmEvent) Clone() *AlarmEvent {
	dup := *e
	if e.Actions != nil {
		dup.Actions = make([]Action, len(e.Actions))
		for i := range e.Actions {
			dup.Actions[i] = e.Actions[i]
			if e.Actions[i].BusArgs != nil {
				dup.Actions[i].BusArgs = append([]any(nil), e.Actions[i].BusArgs...)
			}
		}
	}
	if e.Recurrences != nil {
		dup.Recurrences = append([]RecurrenceRule(nil), e.Recurrences...)
	}
	return &dup
}

// IsRecurring reports whether the event has any recurrence specification.
func (e *AlarmEvent) IsRecurring() bool {
	return e.RecurInterval > 0 || len(e.Recurrences) > 0
}

// IsSnoozed reports whether the event is in snoozed bookkeeping, i.e. a
// pre-snooze base trigger has been recorded.
func (e *AlarmEvent) IsSnoozed() bool {
	return !e.SnoozeBase.IsZero()
}

// Disabled reports whether the event is hidden from the state machine.
func (e *AlarmEvent) Disabled() bool {
	return e.Flags&EventDisabled != 0
}

// Snooze returns the effective snooze interval: the per-event override,
// falling back to def, clamped to MinSnooze.
func (e *AlarmEvent) Snooze(def time.Duration) time.Duration {
	snooze := e.SnoozeSecs
	if snooze <= 0 {
		snooze = def
	}
	if snooze < MinSnooze {
		snooze = MinSnooze
	}
	return snooze
}

// TZ returns the event timezone, or def when the event has no override.
func (e *AlarmEvent) TZ(def string) string {
	if e.Timezone != "" {
		return e.Timezone
	}
	return def
}

// BootMask accumulates the boot-to-desktop / boot-to-acting-dead demand of
// the event from its flags and from desktop/actdead typed actions.
func (e *AlarmEvent) BootMask() EventFlags {
	acc := e.Flags & (EventBoot | EventActDead)
	for i := range e.Actions {
		if e.Actions[i].Flags&ActionTypeDesktop != 0 {
			acc |= EventBoot
		}
		if e.Actions[i].Flags&ActionTypeActDead != 0 {
			acc |= EventActDead
		}
	}
	return acc
}

// Buttons returns the action list indices presented as dialog buttons.
func (e *AlarmEvent) Buttons() []int {
	var vec []int
	for i := range e.Actions {
		if e.Actions[i].IsButton() {
			vec = append(vec, i)
		}
	}
	return vec
}

// Validate rejects event specifications the scheduler cannot work with.
func (e *AlarmEvent) Validate() error {
	switch {
	case e.RecurInterval < 0:
		return Errorf(ErrInvalid, "recurrence interval must be non-negative")
	case e.RecurInterval > 0 && len(e.Recurrences) > 0:
		return Errorf(ErrInvalid, "fixed interval and recurrence rules are mutually exclusive")
	case e.AlarmTime.IsZero() && e.Template == (Template{}):
		return Errorf(ErrInvalid, "no alarm time: absolute time or template required")
	}
	for i := range e.Recurrences {
		if err := e.Recurrences[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
