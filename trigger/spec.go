package trigger

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Mode selects the detection state machine.
type Mode int

const (
	ModeSingle Mode = iota
	ModeDouble
	ModeHold
	ModeSequence
	ModeVoice
)

var modeNames = map[Mode]string{
	ModeSingle:   "single",
	ModeDouble:   "double",
	ModeHold:     "hold",
	ModeSequence: "sequence",
	ModeVoice:    "voice",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a configuration name into a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown trigger mode %q", s)}
}

// Spec describes one activation trigger. It is immutable once configured;
// edits replace it wholesale.
type Spec struct {
	Mode Mode

	// Key is the binding for Single, Double and Hold.
	Key string
	// Timeout is the double-press window (Double) or the inactivity
	// window (Sequence).
	Timeout time.Duration
	// HoldDuration is how long a Hold binding must stay down.
	HoldDuration time.Duration
	// Sequence lists the keys of a Sequence trigger, in order.
	Sequence []string
	// Phrases and Locale configure Voice mode.
	Phrases []string
	Locale  string

	// CancelKey, when set, aborts an active capture.
	CancelKey string
}

// Validate checks the spec for structural problems.
func (s Spec) Validate() error {
	switch s.Mode {
	case ModeSingle, ModeDouble, ModeHold:
		b, err := ParseBinding(s.Key)
		if err != nil {
			return &ConfigError{Field: "key", Reason: err.Error()}
		}
		if IsReserved(b) {
			return &ConfigError{Field: "key", Reason: fmt.Sprintf("%s is a reserved system shortcut", b)}
		}
		if s.Mode == ModeDouble && s.Timeout <= 0 {
			return &ConfigError{Field: "timeout", Reason: "double-press timeout must be positive"}
		}
		if s.Mode == ModeHold && s.HoldDuration <= 0 {
			return &ConfigError{Field: "hold_duration", Reason: "hold duration must be positive"}
		}
	case ModeSequence:
		if len(s.Sequence) < 2 {
			return &ConfigError{Field: "sequence", Reason: "a sequence needs at least two keys"}
		}
		for _, k := range s.Sequence {
			if _, ok := CanonicalKey(k); !ok {
				return &ConfigError{Field: "sequence", Reason: fmt.Sprintf("unknown key %q", k)}
			}
		}
		if s.Timeout <= 0 {
			return &ConfigError{Field: "timeout", Reason: "sequence timeout must be positive"}
		}
	case ModeVoice:
		if len(s.Phrases) == 0 {
			return &ConfigError{Field: "phrases", Reason: "voice mode needs at least one phrase"}
		}
		for _, p := range s.Phrases {
			if strings.TrimSpace(p) == "" {
				return &ConfigError{Field: "phrases", Reason: "empty phrase"}
			}
		}
		if s.Locale != "" {
			if _, err := language.Parse(s.Locale); err != nil {
				return &ConfigError{Field: "locale", Reason: err.Error()}
			}
		}
	default:
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown trigger mode %d", int(s.Mode))}
	}

	if s.CancelKey != "" {
		cb, err := ParseBinding(s.CancelKey)
		if err != nil {
			return &ConfigError{Field: "cancel_key", Reason: err.Error()}
		}
		if b, err := ParseBinding(s.Key); err == nil && s.Key != "" && b == cb {
			return &ConfigError{Field: "cancel_key", Reason: "cancel key must differ from the trigger key"}
		}
	}
	return nil
}

// ActivationKind resolves hold versus toggle semantics on Single and Hold bindings.
type ActivationKind int

const (
	// Direct uses the trigger mode's own semantics.
	Direct ActivationKind = iota
	// Toggle makes each press of the binding flip the capture state.
	Toggle
	// HoldOrToggle classifies each press by how long it is held.
	HoldOrToggle
)

// DefaultClassifyThreshold separates a tap from a hold.
const DefaultClassifyThreshold = 300 * time.Millisecond

// ActivationMode is the hold/toggle policy paired with a Spec.
type ActivationMode struct {
	Kind      ActivationKind
	Threshold time.Duration
}

// ParseActivationKind converts a configuration name into an ActivationKind.
func ParseActivationKind(s string) (ActivationKind, error) {
	switch strings.ToLower(s) {
	case "", "direct":
		return Direct, nil
	case "toggle":
		return Toggle, nil
	case "hold-or-toggle", "hold_or_toggle", "auto":
		return HoldOrToggle, nil
	}
	return Direct, &ConfigError{Field: "activation_mode", Reason: fmt.Sprintf("unknown activation mode %q", s)}
}

func (k ActivationKind) String() string {
	switch k {
	case Toggle:
		return "toggle"
	case HoldOrToggle:
		return "hold-or-toggle"
	default:
		return "direct"
	}
}
