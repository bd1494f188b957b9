// Package mem provides the in-memory event queue. It backs the volatile
// daemon mode directly and serves as the working set of the sqlite queue.
package mem

import (
	"sort"
	"sync"
	"time"

	"bsid.es/alarmd"
)

// DefaultSnooze is the queue-wide snooze interval used until a client
// changes it.
const DefaultSnooze = 10 * time.Minute

// Queue stores alarm events in memory, keyed by cookie. Cookies are
// assigned in ascending order and never reused within a process run.
type Queue struct {
	mu sync.Mutex

	events map[alarmd.Cookie]*alarmd.AlarmEvent
	next   alarmd.Cookie

	snooze time.Duration
	dirty  bool
}

var _ alarmd.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{
		events: make(map[alarmd.Cookie]*alarmd.AlarmEvent),
		next:   1,
		snooze: DefaultSnooze,
	}
}

func (q *Queue) AddEvent(ev *alarmd.AlarmEvent) (alarmd.Cookie, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev.Cookie = q.next
	q.next++
	q.events[ev.Cookie] = ev
	q.dirty = true
	return ev.Cookie, nil
}

// Restore inserts an event keeping its stored cookie. Used when loading
// persisted state; does not mark the queue dirty.
func (q *Queue) Restore(ev *alarmd.AlarmEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events[ev.Cookie] = ev
	if ev.Cookie >= q.next {
		q.next = ev.Cookie + 1
	}
}

func (q *Queue) GetEvent(cookie alarmd.Cookie) (*alarmd.AlarmEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev, ok := q.events[cookie]
	return ev, ok
}

func (q *Queue) DeleteEvent(cookie alarmd.Cookie) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.events[cookie]; !ok {
		return false
	}
	delete(q.events, cookie)
	q.dirty = true
	return true
}

// cookies returns all stored cookies in ascending order. Callers hold
// the queue lock.
func (q *Queue) cookies() []alarmd.Cookie {
	vec := make([]alarmd.Cookie, 0, len(q.events))
	for c := range q.events {
		vec = append(vec, c)
	}
	sort.Slice(vec, func(i, j int) bool { return vec[i] < vec[j] })
	return vec
}

func (q *Queue) QueryByState(state alarmd.State) []alarmd.Cookie {
	q.mu.Lock()
	defer q.mu.Unlock()

	var vec []alarmd.Cookie
	for _, c := range q.cookies() {
		ev := q.events[c]
		if ev.Disabled() || ev.State != state {
			continue
		}
		vec = append(vec, c)
	}
	return vec
}

func (q *Queue) CountByState(state alarmd.State) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cnt := 0
	for _, ev := range q.events {
		if !ev.Disabled() && ev.State == state {
			cnt++
		}
	}
	return cnt
}

func (q *Queue) Query(lo, hi alarmd.Cookie, mask, flags alarmd.EventFlags, appID string) []alarmd.Cookie {
	q.mu.Lock()
	defer q.mu.Unlock()

	var vec []alarmd.Cookie
	for _, c := range q.cookies() {
		ev := q.events[c]
		if c < lo || (hi > 0 && c > hi) {
			continue
		}
		if ev.Flags&mask != flags {
			continue
		}
		if appID != "" && ev.AppID != appID {
			continue
		}
		vec = append(vec, c)
	}
	return vec
}

func (q *Queue) SetEventState(ev *alarmd.AlarmEvent, state alarmd.State) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.State != state {
		ev.State = state
		q.dirty = true
	}
}

func (q *Queue) SetEventTrigger(ev *alarmd.AlarmEvent, trigger time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !ev.Trigger.Equal(trigger) {
		ev.Trigger = trigger
		q.dirty = true
	}
}

func (q *Queue) SetEventFlags(ev *alarmd.AlarmEvent, flags alarmd.EventFlags) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ev.Flags != flags {
		ev.Flags = flags
		q.dirty = true
	}
}

func (q *Queue) DefaultSnooze() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snooze
}

// SetDefaultSnooze changes the queue-wide snooze. Non-positive values
// reset it to the built-in default.
func (q *Queue) SetDefaultSnooze(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d <= 0 {
		d = DefaultSnooze
	}
	q.snooze = d
	q.dirty = true
}

func (q *Queue) Dirty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dirty
}

func (q *Queue) ClearDirty() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dirty = false
}

func (q *Queue) CleanupDeleted() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for c, ev := range q.events {
		if ev.State == alarmd.StateDeleted {
			delete(q.events, c)
		}
	}
}

// Snapshot returns copies of all stored events in ascending cookie
// order, disabled ones included.
func (q *Queue) Snapshot() []*alarmd.AlarmEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	vec := make([]*alarmd.AlarmEvent, 0, len(q.events))
	for _, c := range q.cookies() {
		vec = append(vec, q.events[c].Clone())
	}
	return vec
}

// Save is a no-op, the in-memory queue is volatile.
func (q *Queue) Save() error {
	return nil
}
