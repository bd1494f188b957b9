package alarmd_test

import (
	"testing"
	"time"

	"bsid.es/alarmd"
)

var refBase = time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC)

func TestBumpTime(t *testing.T) {
	tests := []struct {
		name   string
		base   time.Time
		target time.Time
		skip   time.Duration
		want   time.Time
	}{{
		name:   "target on grid moves one full step",
		base:   refBase,
		target: refBase,
		skip:   time.Hour,
		want:   refBase.Add(time.Hour),
	}, {
		name:   "target between grid points rounds up",
		base:   refBase,
		target: refBase.Add(9000 * time.Second),
		skip:   time.Hour,
		want:   refBase.Add(10800 * time.Second),
	}, {
		name:   "target before base lands on grid",
		base:   refBase,
		target: refBase.Add(-90 * time.Minute),
		skip:   time.Hour,
		want:   refBase.Add(-time.Hour),
	}, {
		name:   "target before base on grid moves one step",
		base:   refBase,
		target: refBase.Add(-2 * time.Hour),
		skip:   time.Hour,
		want:   refBase.Add(-time.Hour),
	}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := alarmd.BumpTime(tt.base, tt.target, tt.skip)
			if !got.Equal(tt.want) {
				t.Errorf("wrong bump\ngot:  %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestNextTriggerAbsolute(t *testing.T) {
	now := refBase

	tests := []struct {
		name  string
		known time.Time
		event alarmd.AlarmEvent
		want  time.Time
		ok    bool
	}{{
		name:  "future absolute time",
		known: now.Add(time.Hour),
		event: alarmd.AlarmEvent{Template: alarmd.EmptyTemplate()},
		want:  now.Add(time.Hour),
		ok:    true,
	}, {
		name:  "past absolute time rejected",
		known: now.Add(-time.Hour),
		event: alarmd.AlarmEvent{Template: alarmd.EmptyTemplate()},
		ok:    false,
	}, {
		name:  "exactly now accepted",
		known: now,
		event: alarmd.AlarmEvent{Template: alarmd.EmptyTemplate()},
		want:  now,
		ok:    true,
	}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := alarmd.NextTrigger(now, tt.known, &tt.event, time.UTC)
			if ok != tt.ok {
				t.Fatalf("wrong validity\ngot:  %v\nwant: %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestNextTriggerFixedInterval(t *testing.T) {
	// Base trigger T, interval 3600s, evaluated at T+9000: the next
	// trigger is T+10800, the smallest interval multiple past now.
	base := refBase
	now := base.Add(9000 * time.Second)

	event := alarmd.AlarmEvent{
		Template:      alarmd.EmptyTemplate(),
		RecurInterval: time.Hour,
		RecurCount:    -1,
	}

	got, ok := alarmd.NextTrigger(now, base, &event, time.UTC)
	if !ok {
		t.Fatal("expected a valid trigger")
	}
	if want := base.Add(10800 * time.Second); !got.Equal(want) {
		t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got, want)
	}
}

func TestNextTriggerFromTemplate(t *testing.T) {
	// 08:30 daily template, no date fields: aligns to the next 08:30.
	tpl := alarmd.EmptyTemplate()
	tpl.Hour = 8
	tpl.Minute = 30

	event := alarmd.AlarmEvent{Template: tpl}

	now := time.Date(2012, 12, 21, 9, 0, 0, 0, time.UTC)
	got, ok := alarmd.NextTrigger(now, time.Time{}, &event, time.UTC)
	if !ok {
		t.Fatal("expected a valid trigger")
	}
	if want := time.Date(2012, 12, 22, 8, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got, want)
	}
}

func TestNextTriggerFullyQualifiedTemplate(t *testing.T) {
	tpl := alarmd.Template{
		Second: 0, Minute: 15, Hour: 6, Mday: 24, Month: 12, Year: 2012,
		Weekday: alarmd.TemplateUnset,
	}
	event := alarmd.AlarmEvent{Template: tpl}

	now := refBase
	got, ok := alarmd.NextTrigger(now, time.Time{}, &event, time.UTC)
	if !ok {
		t.Fatal("expected a valid trigger")
	}
	if want := time.Date(2012, 12, 24, 6, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got, want)
	}
}

func TestNextTriggerRecurrenceRules(t *testing.T) {
	// Two rules: daily at 07:00 and daily at 19:00. The nearest
	// alignment strictly after the base wins.
	event := alarmd.AlarmEvent{
		Template: alarmd.EmptyTemplate(),
		Recurrences: []alarmd.RecurrenceRule{
			{MinuteMask: 1 << 0, HourMask: 1 << 7},
			{MinuteMask: 1 << 0, HourMask: 1 << 19},
		},
		RecurCount: -1,
	}

	now := time.Date(2012, 12, 21, 12, 0, 0, 0, time.UTC)
	got, ok := alarmd.NextTrigger(now, now, &event, time.UTC)
	if !ok {
		t.Fatal("expected a valid trigger")
	}
	if want := time.Date(2012, 12, 21, 19, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got, want)
	}
}
