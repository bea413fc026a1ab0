package trigger

import "time"

// Event is any input the detector consumes.
type Event interface {
	isEvent()
}

// KeyEvent is a raw key transition from the OS hook.
type KeyEvent struct {
	Key  string
	Down bool
	At   time.Time
}

// PhraseEvent carries a phrase recognised by the speech recognizer.
type PhraseEvent struct {
	Text string
	At   time.Time
}

// VoiceStopEvent is an explicit stop from the speech recognizer.
type VoiceStopEvent struct {
	At time.Time
}

// TimerEvent is posted when a scheduled timer fires. Token identifies the
// arming it belongs to; superseded tokens are ignored.
type TimerEvent struct {
	Binding string
	Token   uint64
	At      time.Time
}

func (KeyEvent) isEvent()       {}
func (PhraseEvent) isEvent()    {}
func (VoiceStopEvent) isEvent() {}
func (TimerEvent) isEvent()     {}

// Signal is a logical edge produced by the detector.
type Signal int

const (
	None Signal = iota
	Activate
	Deactivate
	Cancel
)

func (s Signal) String() string {
	switch s {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case Cancel:
		return "cancel"
	default:
		return "none"
	}
}

// Scheduler arms cancellable timers keyed by binding. When a timer fires it
// must deliver a TimerEvent with the same binding and token back through the
// detector's event path.
type Scheduler interface {
	Schedule(binding string, token uint64, after time.Duration)
	Cancel(binding string)
}
