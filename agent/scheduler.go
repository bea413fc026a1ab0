package agent

import (
	"time"

	"markestedt/voicekey/trigger"
)

// timerScheduler arms real timers that post TimerEvents back into the
// agent's inbox. It is only used from the agent goroutine.
type timerScheduler struct {
	post   func(msg any)
	timers map[string]*time.Timer
}

func newTimerScheduler(post func(msg any)) *timerScheduler {
	return &timerScheduler{post: post, timers: make(map[string]*time.Timer)}
}

func (s *timerScheduler) Schedule(binding string, token uint64, after time.Duration) {
	s.Cancel(binding)
	s.timers[binding] = time.AfterFunc(after, func() {
		s.post(trigger.TimerEvent{Binding: binding, Token: token, At: time.Now()})
	})
}

func (s *timerScheduler) Cancel(binding string) {
	if t, ok := s.timers[binding]; ok {
		t.Stop()
		delete(s.timers, binding)
	}
}

func (s *timerScheduler) stopAll() {
	for binding := range s.timers {
		s.Cancel(binding)
	}
}
