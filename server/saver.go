package server

import (
	"sync"
	"time"
)

// saveDelay is how long queue changes are allowed to accumulate before
// they are flushed to storage.
const saveDelay = time.Second

// saver debounces queue persistence. The first request after a flush
// arms the timer; further requests within the window ride along. Forced
// saves flush immediately, used before asking for a device powerup and
// on shutdown.
type saver struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer

	// save flushes the queue. Runs on the timer goroutine or the
	// caller of forced.
	save func()
}

func (s *saver) request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
	}
}

func (s *saver) fire() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	s.save()
}

func (s *saver) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *saver) forced() {
	s.cancel()
	s.save()
}
