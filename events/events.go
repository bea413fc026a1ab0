// Package events defines the lifecycle events published by the agent and
// fans them out to subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"markestedt/voicekey/inject"
	"markestedt/voicekey/platform"
)

// Kind names a lifecycle event.
type Kind string

const (
	ActivationStarted   Kind = "activation-started"
	ActivationResult    Kind = "activation-result"
	ActivationError     Kind = "activation-error"
	ActivationCancelled Kind = "activation-cancelled"
	InjectionFailed     Kind = "injection-failed"
	InjectionOutcome    Kind = "injection-outcome"
	SessionState        Kind = "session-state"
	TriggerSignal       Kind = "trigger-signal"
)

// Event is one lifecycle notification. Fields irrelevant to the kind are empty.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`

	// Text is the transcription (activation-result), any partial text
	// (activation-error) or the undelivered text (injection-failed).
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
	State  string `json:"state,omitempty"`
	Signal string `json:"signal,omitempty"`

	Target     *platform.AppHandle `json:"target,omitempty"`
	Injection  *inject.Outcome     `json:"injection,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
}

// Lossy reports whether events of kind k may be dropped for a slow
// subscriber. Every other kind is queued until the subscriber catches up so
// undelivered text is never lost.
func Lossy(k Kind) bool {
	return k == TriggerSignal || k == SessionState
}

// Bus fans events out to subscribers. Publish never blocks: lossy events
// are dropped for a subscriber whose buffer is full, other events wait in
// an overflow queue.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	closed bool
}

type subscriber struct {
	id   int
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	overflow []Event
	draining bool
	closed   bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buf)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{id: b.next, ch: ch, done: make(chan struct{})}
	b.next++
	b.subs[sub.id] = sub

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				s.shutdown()
			}
		})
	}
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.deliver(ev)
	}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.shutdown()
		delete(b.subs, id)
	}
}

func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Queued events go first to keep order.
	if len(s.overflow) == 0 {
		select {
		case s.ch <- ev:
			return
		default:
		}
	}
	if Lossy(ev.Kind) {
		slog.Warn("Event subscriber is behind, dropping event", "subscriber", s.id, "kind", ev.Kind)
		return
	}
	s.overflow = append(s.overflow, ev)
	if !s.draining {
		s.draining = true
		s.wg.Add(1)
		go s.drain()
	}
}

// drain moves queued events into the channel, blocking on the reader.
func (s *subscriber) drain() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.overflow) == 0 || s.closed {
			s.draining = false
			s.mu.Unlock()
			return
		}
		ev := s.overflow[0]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
			s.mu.Lock()
			s.overflow[0] = Event{}
			s.overflow = s.overflow[1:]
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// shutdown stops the drain goroutine and closes the channel. Events already
// in the channel stay readable.
func (s *subscriber) shutdown() {
	s.mu.Lock()
	s.closed = true
	if n := len(s.overflow); n > 0 {
		slog.Warn("Subscriber closed with queued events", "subscriber", s.id, "queued", n)
	}
	s.overflow = nil
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	close(s.ch)
}
