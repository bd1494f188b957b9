package alarmd_test

import (
	"testing"
	"time"

	"bsid.es/alarmd"
)

func TestRecurrenceRuleAlign(t *testing.T) {
	tests := []struct {
		name string
		rule alarmd.RecurrenceRule
		from time.Time
		want time.Time
	}{{
		name: "minute mask from earlier in the hour",
		rule: alarmd.RecurrenceRule{MinuteMask: 1 << 45},
		from: time.Date(2012, 12, 21, 10, 10, 0, 0, time.UTC),
		want: time.Date(2012, 12, 21, 10, 45, 0, 0, time.UTC),
	}, {
		name: "matching instant aligns to itself",
		rule: alarmd.RecurrenceRule{MinuteMask: 1 << 45},
		from: time.Date(2012, 12, 21, 10, 45, 0, 0, time.UTC),
		want: time.Date(2012, 12, 21, 10, 45, 0, 0, time.UTC),
	}, {
		name: "hour and minute masks wrap to next day",
		rule: alarmd.RecurrenceRule{MinuteMask: 1 << 30, HourMask: 1 << 6},
		from: time.Date(2012, 12, 21, 7, 0, 0, 0, time.UTC),
		want: time.Date(2012, 12, 22, 6, 30, 0, 0, time.UTC),
	}, {
		name: "weekday mask picks next monday",
		rule: alarmd.RecurrenceRule{
			MinuteMask: 1 << 0,
			HourMask:   1 << 9,
			WdayMask:   1 << 1, // Monday
		},
		// 2012-12-21 is a Friday.
		from: time.Date(2012, 12, 21, 12, 0, 0, 0, time.UTC),
		want: time.Date(2012, 12, 24, 9, 0, 0, 0, time.UTC),
	}, {
		name: "month and mday masks",
		rule: alarmd.RecurrenceRule{
			MinuteMask: 1 << 0,
			HourMask:   1 << 0,
			MdayMask:   1 << 1,
			MonthMask:  1 << 3, // March
		},
		from: time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC),
		want: time.Date(2013, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rule.Align(tt.from, time.UTC)
			if !got.Equal(tt.want) {
				t.Errorf("wrong alignment\ngot:  %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestRecurrenceRuleNext(t *testing.T) {
	rule := alarmd.RecurrenceRule{MinuteMask: 1 << 45}
	from := time.Date(2012, 12, 21, 10, 45, 0, 0, time.UTC)

	got := rule.Next(from, time.UTC)
	if want := time.Date(2012, 12, 21, 11, 45, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("wrong next occurrence\ngot:  %v\nwant: %v", got, want)
	}
}

func TestRecurrenceRuleImpossible(t *testing.T) {
	// February 30th never happens; the alignment horizon must give up.
	rule := alarmd.RecurrenceRule{
		MdayMask:  1 << 30,
		MonthMask: 1 << 2,
	}
	got := rule.Align(time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC), time.UTC)
	if !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}
}

func TestRecurrenceRuleValidate(t *testing.T) {
	tests := []struct {
		name string
		rule alarmd.RecurrenceRule
	}{{
		name: "minute mask out of range",
		rule: alarmd.RecurrenceRule{MinuteMask: 1 << 60},
	}, {
		name: "hour mask out of range",
		rule: alarmd.RecurrenceRule{HourMask: 1 << 24},
	}, {
		name: "mday zero bit",
		rule: alarmd.RecurrenceRule{MdayMask: 1 << 0},
	}, {
		name: "weekday mask out of range",
		rule: alarmd.RecurrenceRule{WdayMask: 1 << 7},
	}, {
		name: "month mask out of range",
		rule: alarmd.RecurrenceRule{MonthMask: 1 << 13},
	}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.Validate(); err == nil {
				t.Error("expected error")
			} else if got, want := alarmd.ErrorCode(err), alarmd.ErrInvalid; got != want {
				t.Errorf("wrong error code\ngot:  %s\nwant: %s", got, want)
			}
		})
	}
}
