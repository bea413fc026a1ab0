// Package trigger turns raw keyboard and phrase events into logical
// Activate/Deactivate signals for the configured trigger.
//
// A Detector is not safe for concurrent use. It is owned by a single
// event-processing goroutine which also receives the TimerEvents produced
// by its Scheduler.
package trigger

import (
	"log/slog"
	"time"
)

// machine is the per-mode state machine chosen once at Configure time.
type machine interface {
	onKey(ev KeyEvent) Signal
	onTimer(id string, at time.Time) Signal
	onVoice(ev Event) Signal
	reset()
}

// Detector classifies input events for one configured trigger.
type Detector struct {
	sched Scheduler
	busy  func() bool

	spec       Spec
	mode       ActivationMode
	configured bool
	m          machine
	cancel     *Binding

	pressed map[string]bool
	tokens  map[string]uint64
	nextTok uint64
	active  bool

	hook *HookLease
}

// NewDetector creates an unconfigured detector. busy reports whether a
// capture session is in progress; Configure is rejected while it returns true.
func NewDetector(sched Scheduler, busy func() bool) *Detector {
	return &Detector{
		sched:   sched,
		busy:    busy,
		pressed: make(map[string]bool),
		tokens:  make(map[string]uint64),
	}
}

// Configure installs a new trigger, replacing the previous one and clearing
// all runtime state.
func (d *Detector) Configure(spec Spec, mode ActivationMode) error {
	if d.busy != nil && d.busy() {
		return ErrSessionActive
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if mode.Threshold < 0 {
		return &ConfigError{Field: "classify_threshold", Reason: "threshold must not be negative"}
	}

	m, err := d.compile(spec, mode)
	if err != nil {
		return err
	}
	var cancel *Binding
	if spec.CancelKey != "" {
		b, err := ParseBinding(spec.CancelKey)
		if err != nil {
			return &ConfigError{Field: "cancel_key", Reason: err.Error()}
		}
		cancel = &b
	}

	d.disarmAll()
	d.pressed = make(map[string]bool)
	d.active = false
	d.spec = spec
	d.mode = mode
	d.m = m
	d.cancel = cancel
	d.configured = true

	slog.Info("Trigger configured", "mode", spec.Mode, "activation", mode.Kind)
	return nil
}

// Clear removes the configured trigger.
func (d *Detector) Clear() error {
	if d.busy != nil && d.busy() {
		return ErrSessionActive
	}
	d.disarmAll()
	d.m = nil
	d.cancel = nil
	d.active = false
	d.configured = false
	return nil
}

// Spec returns the configured trigger, if any.
func (d *Detector) Spec() (Spec, ActivationMode, bool) {
	return d.spec, d.mode, d.configured
}

// Active reports whether the last emitted edge was Activate.
func (d *Detector) Active() bool {
	return d.active
}

// Release forgets an active capture window without emitting anything. It is
// used when the session ended on its own (ceiling, capture error).
func (d *Detector) Release() {
	d.active = false
	d.disarmAll()
	if d.m != nil {
		d.m.reset()
	}
}

// Stop tears the detector down and releases the input hook. It is idempotent.
func (d *Detector) Stop() {
	d.disarmAll()
	d.m = nil
	d.active = false
	if d.hook != nil {
		if err := d.hook.Release(); err != nil {
			slog.Warn("Failed to release input hook", "error", err)
		}
		d.hook = nil
	}
}

// Feed processes one event and returns at most one logical signal.
func (d *Detector) Feed(ev Event) (Signal, bool) {
	switch e := ev.(type) {
	case KeyEvent:
		return d.feedKey(e)
	case TimerEvent:
		tok, ok := d.tokens[e.Binding]
		if !ok || tok != e.Token {
			slog.Debug("Ignoring stale timer", "binding", e.Binding, "token", e.Token)
			return None, false
		}
		delete(d.tokens, e.Binding)
		if d.m == nil {
			return None, false
		}
		return d.emit(d.m.onTimer(e.Binding, e.At))
	case PhraseEvent, VoiceStopEvent:
		if d.m == nil {
			return None, false
		}
		return d.emit(d.m.onVoice(ev))
	default:
		slog.Warn("Dropping unknown input event", "event", ev)
		return None, false
	}
}

func (d *Detector) feedKey(e KeyEvent) (Signal, bool) {
	if e.Key == "" || e.At.IsZero() {
		slog.Warn("Dropping malformed key event", "key", e.Key, "at", e.At)
		return None, false
	}
	key, ok := CanonicalKey(e.Key)
	if !ok {
		slog.Warn("Dropping key event with unknown key name", "key", e.Key)
		return None, false
	}

	if e.Down {
		if d.pressed[key] {
			// OS auto-repeat
			return None, false
		}
		d.pressed[key] = true
		if d.active && d.cancel != nil && d.comboDown(*d.cancel, key) {
			d.Release()
			return Cancel, true
		}
	} else {
		delete(d.pressed, key)
	}

	if d.m == nil {
		return None, false
	}
	return d.emit(d.m.onKey(KeyEvent{Key: key, Down: e.Down, At: e.At}))
}

// emit enforces strict Activate/Deactivate alternation.
func (d *Detector) emit(s Signal) (Signal, bool) {
	switch s {
	case Activate:
		if d.active {
			slog.Warn("Suppressing activate while already active")
			return None, false
		}
		d.active = true
	case Deactivate:
		if !d.active {
			return None, false
		}
		d.active = false
	case None:
		return None, false
	}
	return s, true
}

// heldModifiers returns the generic modifier classes currently down.
func (d *Detector) heldModifiers() Modifiers {
	var m Modifiers
	for k := range d.pressed {
		m |= modifierClass(k)
	}
	return m
}

// comboDown reports whether pressing key completes binding b exactly.
func (d *Detector) comboDown(b Binding, key string) bool {
	if !keyMatches(key, b.Key) {
		return false
	}
	return d.heldModifiers()&^modifierClass(b.Key) == b.Mods
}

func (d *Detector) arm(id string, after time.Duration) {
	d.nextTok++
	d.tokens[id] = d.nextTok
	d.sched.Schedule(id, d.nextTok, after)
}

func (d *Detector) disarm(id string) {
	if _, ok := d.tokens[id]; !ok {
		return
	}
	delete(d.tokens, id)
	d.sched.Cancel(id)
}

func (d *Detector) disarmAll() {
	for id := range d.tokens {
		d.sched.Cancel(id)
	}
	d.tokens = make(map[string]uint64)
}

func (d *Detector) compile(spec Spec, mode ActivationMode) (machine, error) {
	switch spec.Mode {
	case ModeSingle, ModeHold:
		b, err := ParseBinding(spec.Key)
		if err != nil {
			return nil, &ConfigError{Field: "key", Reason: err.Error()}
		}
		switch mode.Kind {
		case Toggle:
			return &toggleMachine{d: d, b: b}, nil
		case HoldOrToggle:
			threshold := mode.Threshold
			if spec.Mode == ModeHold {
				threshold = spec.HoldDuration
			}
			if threshold == 0 {
				threshold = DefaultClassifyThreshold
			}
			return &classifier{d: d, b: b, threshold: threshold}, nil
		}
		if spec.Mode == ModeHold {
			return &holdMachine{d: d, b: b, hold: spec.HoldDuration}, nil
		}
		return &singleMachine{d: d, b: b}, nil
	case ModeDouble:
		b, err := ParseBinding(spec.Key)
		if err != nil {
			return nil, &ConfigError{Field: "key", Reason: err.Error()}
		}
		return &doubleMachine{d: d, b: b, timeout: spec.Timeout}, nil
	case ModeSequence:
		keys := make([]string, len(spec.Sequence))
		for i, k := range spec.Sequence {
			keys[i], _ = CanonicalKey(k)
		}
		return &sequenceMachine{d: d, keys: keys, timeout: spec.Timeout}, nil
	case ModeVoice:
		return newVoiceMachine(d, spec.Phrases, spec.Locale), nil
	}
	return nil, &ConfigError{Field: "mode", Reason: "unsupported mode"}
}
