package trigger

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// singleMachine activates on key-down and deactivates on key-up.
type singleMachine struct {
	d    *Detector
	b    Binding
	down bool
}

func (m *singleMachine) onKey(ev KeyEvent) Signal {
	if ev.Down {
		if m.d.comboDown(m.b, ev.Key) {
			m.down = true
			return Activate
		}
		return None
	}
	if m.down && m.b.involves(ev.Key) {
		m.down = false
		return Deactivate
	}
	return None
}

func (m *singleMachine) onTimer(string, time.Time) Signal { return None }
func (m *singleMachine) onVoice(Event) Signal             { return None }
func (m *singleMachine) reset()                           { m.down = false }

// toggleMachine flips the capture state on every press.
type toggleMachine struct {
	d *Detector
	b Binding
}

func (m *toggleMachine) onKey(ev KeyEvent) Signal {
	if !ev.Down || !m.d.comboDown(m.b, ev.Key) {
		return None
	}
	if m.d.active {
		return Deactivate
	}
	return Activate
}

func (m *toggleMachine) onTimer(string, time.Time) Signal { return None }
func (m *toggleMachine) onVoice(Event) Signal             { return None }
func (m *toggleMachine) reset()                           {}

// holdMachine activates once the binding has been held for the hold
// duration. An early release discards the press without any signal.
type holdMachine struct {
	d       *Detector
	b       Binding
	hold    time.Duration
	pending bool
	holding bool
}

func (m *holdMachine) onKey(ev KeyEvent) Signal {
	if ev.Down {
		if !m.pending && !m.holding && m.d.comboDown(m.b, ev.Key) {
			m.pending = true
			m.d.arm(m.b.String(), m.hold)
		}
		return None
	}
	if !m.b.involves(ev.Key) {
		return None
	}
	switch {
	case m.pending:
		m.pending = false
		m.d.disarm(m.b.String())
	case m.holding:
		m.holding = false
		return Deactivate
	}
	return None
}

func (m *holdMachine) onTimer(id string, _ time.Time) Signal {
	if id != m.b.String() || !m.pending {
		return None
	}
	m.pending = false
	m.holding = true
	return Activate
}

func (m *holdMachine) onVoice(Event) Signal { return None }

func (m *holdMachine) reset() {
	m.pending = false
	m.holding = false
}

type classifyState int

const (
	classifyIdle classifyState = iota
	classifyPending
	classifyLatched
	classifyHold
)

// classifier resolves hold versus toggle on one binding. Activate fires on
// the first press; releasing before the threshold latches the capture until
// the next press, releasing after it ends the capture immediately.
type classifier struct {
	d         *Detector
	b         Binding
	threshold time.Duration
	state     classifyState
}

func (m *classifier) onKey(ev KeyEvent) Signal {
	id := m.b.String()
	if ev.Down {
		if !m.d.comboDown(m.b, ev.Key) {
			return None
		}
		switch m.state {
		case classifyIdle:
			m.state = classifyPending
			m.d.arm(id, m.threshold)
			return Activate
		case classifyLatched:
			// A further press while latched turns the capture off.
			m.state = classifyIdle
			return Deactivate
		}
		return None
	}

	if !m.b.involves(ev.Key) {
		return None
	}
	switch m.state {
	case classifyPending:
		m.d.disarm(id)
		m.state = classifyLatched
	case classifyHold:
		m.state = classifyIdle
		return Deactivate
	}
	return None
}

func (m *classifier) onTimer(id string, _ time.Time) Signal {
	if id == m.b.String() && m.state == classifyPending {
		m.state = classifyHold
	}
	return None
}

func (m *classifier) onVoice(Event) Signal { return None }

func (m *classifier) reset() { m.state = classifyIdle }

// doubleMachine activates on two presses within the timeout. The next
// single press deactivates.
type doubleMachine struct {
	d       *Detector
	b       Binding
	timeout time.Duration
	last    time.Time
}

func (m *doubleMachine) onKey(ev KeyEvent) Signal {
	if !ev.Down || !m.d.comboDown(m.b, ev.Key) {
		return None
	}
	id := m.b.String()
	if m.d.active {
		m.last = time.Time{}
		m.d.disarm(id)
		return Deactivate
	}
	if !m.last.IsZero() && ev.At.Sub(m.last) < m.timeout {
		m.last = time.Time{}
		m.d.disarm(id)
		return Activate
	}
	m.last = ev.At
	m.d.arm(id, m.timeout)
	return None
}

func (m *doubleMachine) onTimer(id string, _ time.Time) Signal {
	if id == m.b.String() {
		m.last = time.Time{}
	}
	return None
}

func (m *doubleMachine) onVoice(Event) Signal { return None }
func (m *doubleMachine) reset()               { m.last = time.Time{} }

// sequenceMachine matches a rolling buffer of key-downs against a target
// sequence. Inactivity longer than the timeout clears the buffer.
type sequenceMachine struct {
	d       *Detector
	keys    []string
	timeout time.Duration
	buf     []string
}

func (m *sequenceMachine) id() string {
	return "sequence:" + strings.Join(m.keys, ",")
}

func (m *sequenceMachine) onKey(ev KeyEvent) Signal {
	if !ev.Down {
		return None
	}
	m.buf = append(m.buf, ev.Key)
	if over := len(m.buf) - len(m.keys); over > 0 {
		m.buf = m.buf[over:]
	}
	if !m.matches() {
		m.d.arm(m.id(), m.timeout)
		return None
	}
	m.buf = nil
	m.d.disarm(m.id())
	if m.d.active {
		return Deactivate
	}
	return Activate
}

func (m *sequenceMachine) matches() bool {
	if len(m.buf) != len(m.keys) {
		return false
	}
	for i, k := range m.keys {
		if !keyMatches(m.buf[i], k) {
			return false
		}
	}
	return true
}

func (m *sequenceMachine) onTimer(id string, _ time.Time) Signal {
	if id == m.id() {
		m.buf = nil
	}
	return None
}

func (m *sequenceMachine) onVoice(Event) Signal { return None }
func (m *sequenceMachine) reset()               { m.buf = nil }

// voiceMachine toggles on recognised phrases.
type voiceMachine struct {
	d       *Detector
	caser   cases.Caser
	phrases []string
}

func newVoiceMachine(d *Detector, phrases []string, locale string) *voiceMachine {
	tag := language.Und
	if locale != "" {
		tag = language.Make(locale)
	}
	m := &voiceMachine{d: d, caser: cases.Lower(tag)}
	for _, p := range phrases {
		m.phrases = append(m.phrases, m.caser.String(strings.TrimSpace(p)))
	}
	return m
}

func (m *voiceMachine) onKey(KeyEvent) Signal            { return None }
func (m *voiceMachine) onTimer(string, time.Time) Signal { return None }
func (m *voiceMachine) reset()                           {}

func (m *voiceMachine) onVoice(ev Event) Signal {
	switch e := ev.(type) {
	case PhraseEvent:
		heard := m.caser.String(e.Text)
		for _, p := range m.phrases {
			if strings.Contains(heard, p) {
				if m.d.active {
					return Deactivate
				}
				return Activate
			}
		}
	case VoiceStopEvent:
		if m.d.active {
			return Deactivate
		}
	}
	return None
}
