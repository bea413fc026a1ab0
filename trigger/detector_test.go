package trigger

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type virtualTimer struct {
	token uint64
	at    time.Time
}

// virtualScheduler keeps timers on a fake clock; the harness fires them.
type virtualScheduler struct {
	now    time.Time
	timers map[string]virtualTimer
}

func (s *virtualScheduler) Schedule(binding string, token uint64, after time.Duration) {
	s.timers[binding] = virtualTimer{token: token, at: s.now.Add(after)}
}

func (s *virtualScheduler) Cancel(binding string) {
	delete(s.timers, binding)
}

type harness struct {
	t       *testing.T
	d       *Detector
	sched   *virtualScheduler
	busy    bool
	signals []Signal
}

func newHarness(t *testing.T, spec Spec, mode ActivationMode) *harness {
	t.Helper()
	h := &harness{t: t, sched: &virtualScheduler{now: epoch, timers: map[string]virtualTimer{}}}
	h.d = NewDetector(h.sched, func() bool { return h.busy })
	require.NoError(t, h.d.Configure(spec, mode))
	return h
}

// advance fires, in order, every timer due at or before `to`.
func (h *harness) advance(to time.Time) {
	for {
		var next string
		var due virtualTimer
		for id, tm := range h.sched.timers {
			if tm.at.After(to) {
				continue
			}
			if next == "" || tm.at.Before(due.at) {
				next, due = id, tm
			}
		}
		if next == "" {
			break
		}
		delete(h.sched.timers, next)
		h.sched.now = due.at
		h.feed(TimerEvent{Binding: next, Token: due.token, At: due.at})
	}
	h.sched.now = to
}

func (h *harness) feed(ev Event) {
	if s, ok := h.d.Feed(ev); ok {
		h.signals = append(h.signals, s)
	}
}

func (h *harness) key(ms int, key string, down bool) {
	at := epoch.Add(time.Duration(ms) * time.Millisecond)
	h.advance(at)
	h.feed(KeyEvent{Key: key, Down: down, At: at})
}

func (h *harness) tap(ms int, key string) {
	h.key(ms, key, true)
	h.key(ms+20, key, false)
}

func TestSingleActivateDeactivate(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "ctrl+shift+v"}, ActivationMode{})

	h.key(0, "rctrl", true)
	h.key(10, "lshift", true)
	h.key(20, "v", true)
	h.key(25, "v", true) // auto-repeat
	h.key(300, "v", false)

	assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)
}

func TestSingleRequiresExactModifiers(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "space"}, ActivationMode{})

	h.key(0, "shift", true)
	h.key(10, "space", true)
	h.key(20, "space", false)
	h.key(30, "shift", false)

	assert.Empty(t, h.signals)
}

func TestDoublePressWindow(t *testing.T) {
	const timeout = 400

	t.Run("inside window", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeDouble, Key: "rctrl", Timeout: timeout * time.Millisecond}, ActivationMode{})
		h.tap(0, "rctrl")
		h.key(timeout-1, "rctrl", true)
		assert.Equal(t, []Signal{Activate}, h.signals)
	})

	t.Run("outside window", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeDouble, Key: "rctrl", Timeout: timeout * time.Millisecond}, ActivationMode{})
		h.tap(0, "rctrl")
		h.key(timeout+1, "rctrl", true)
		assert.Empty(t, h.signals)
	})

	t.Run("triple press does not re-activate", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeDouble, Key: "rctrl", Timeout: timeout * time.Millisecond}, ActivationMode{})
		h.tap(0, "rctrl")
		h.tap(100, "rctrl")
		h.tap(200, "rctrl")
		assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)
	})
}

func TestHoldDuration(t *testing.T) {
	const hold = 500

	t.Run("released early", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeHold, Key: "space", HoldDuration: hold * time.Millisecond}, ActivationMode{})
		h.key(0, "space", true)
		h.key(hold-1, "space", false)
		h.advance(epoch.Add(2 * hold * time.Millisecond))
		assert.Empty(t, h.signals)
	})

	t.Run("held long enough", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeHold, Key: "space", HoldDuration: hold * time.Millisecond}, ActivationMode{})
		h.key(0, "space", true)
		h.key(hold+1, "space", false)
		assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)
	})
}

func TestSequenceWindow(t *testing.T) {
	spec := Spec{Mode: ModeSequence, Sequence: []string{"R", "R"}, Timeout: 500 * time.Millisecond}

	t.Run("within window", func(t *testing.T) {
		h := newHarness(t, spec, ActivationMode{})
		h.tap(0, "r")
		h.tap(300, "r")
		assert.Equal(t, []Signal{Activate}, h.signals)
	})

	t.Run("beyond window", func(t *testing.T) {
		h := newHarness(t, spec, ActivationMode{})
		h.tap(0, "r")
		h.tap(800, "r")
		assert.Empty(t, h.signals)
	})

	t.Run("interrupted by other key", func(t *testing.T) {
		h := newHarness(t, spec, ActivationMode{})
		h.tap(0, "r")
		h.tap(100, "x")
		h.tap(200, "r")
		assert.Empty(t, h.signals)
	})

	t.Run("second match deactivates", func(t *testing.T) {
		h := newHarness(t, spec, ActivationMode{})
		h.tap(0, "r")
		h.tap(100, "r")
		h.tap(2000, "r")
		h.tap(2100, "r")
		assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)
	})
}

func TestHoldOrToggle(t *testing.T) {
	mode := ActivationMode{Kind: HoldOrToggle, Threshold: 300 * time.Millisecond}

	t.Run("tap latches until next press", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeSingle, Key: "f9"}, mode)
		h.key(0, "f9", true)
		h.key(100, "f9", false)
		assert.Equal(t, []Signal{Activate}, h.signals)

		h.key(5000, "f9", true)
		h.key(5100, "f9", false)
		assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)
	})

	t.Run("long press behaves as hold", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeSingle, Key: "f9"}, mode)
		h.key(0, "f9", true)
		h.key(400, "f9", false)
		assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)

		// Next press starts a fresh classification.
		h.key(1000, "f9", true)
		assert.Equal(t, []Signal{Activate, Deactivate, Activate}, h.signals)
	})

	t.Run("hold spec uses hold duration as threshold", func(t *testing.T) {
		h := newHarness(t, Spec{Mode: ModeHold, Key: "f9", HoldDuration: 800 * time.Millisecond}, mode)
		h.key(0, "f9", true)
		h.key(500, "f9", false)
		assert.Equal(t, []Signal{Activate}, h.signals, "released before 800ms should latch")
	})
}

func TestToggleMode(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "f8"}, ActivationMode{Kind: Toggle})
	h.tap(0, "f8")
	h.tap(1000, "f8")
	h.tap(2000, "f8")
	assert.Equal(t, []Signal{Activate, Deactivate, Activate}, h.signals)
}

func TestVoicePhrases(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeVoice, Phrases: []string{"Start Dictation"}, Locale: "en-US"}, ActivationMode{})

	h.feed(PhraseEvent{Text: "ok so START DICTATION please", At: epoch})
	h.feed(PhraseEvent{Text: "unrelated chatter", At: epoch})
	h.feed(PhraseEvent{Text: "start dictation", At: epoch})
	assert.Equal(t, []Signal{Activate, Deactivate}, h.signals)

	h.feed(PhraseEvent{Text: "start dictation", At: epoch})
	h.feed(VoiceStopEvent{At: epoch})
	h.feed(VoiceStopEvent{At: epoch})
	assert.Equal(t, []Signal{Activate, Deactivate, Activate, Deactivate}, h.signals)
}

func TestVoiceLocaleFolding(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeVoice, Phrases: []string{"YAZ"}, Locale: "tr"}, ActivationMode{})
	h.feed(PhraseEvent{Text: "hadi yaz", At: epoch})
	assert.Equal(t, []Signal{Activate}, h.signals)
}

func TestCancelKey(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "f9", CancelKey: "esc"}, ActivationMode{Kind: Toggle})

	h.tap(0, "esc") // not active: ignored
	h.tap(100, "f9")
	h.tap(200, "esc")
	assert.Equal(t, []Signal{Activate, Cancel}, h.signals)
	assert.False(t, h.d.Active())

	h.tap(300, "f9")
	assert.Equal(t, []Signal{Activate, Cancel, Activate}, h.signals)
}

func TestConfigureRejectedWhileBusy(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "f9"}, ActivationMode{})
	h.busy = true

	err := h.d.Configure(Spec{Mode: ModeSingle, Key: "f10"}, ActivationMode{})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.ErrorIs(t, h.d.Clear(), ErrSessionActive)

	spec, _, ok := h.d.Spec()
	require.True(t, ok)
	assert.Equal(t, "f9", spec.Key)
}

func TestConfigureValidation(t *testing.T) {
	tests := []struct {
		name  string
		spec  Spec
		field string
	}{
		{"missing key", Spec{Mode: ModeSingle}, "key"},
		{"unknown key", Spec{Mode: ModeSingle, Key: "hyper"}, "key"},
		{"reserved", Spec{Mode: ModeSingle, Key: "cmd+space"}, "key"},
		{"double without timeout", Spec{Mode: ModeDouble, Key: "rctrl"}, "timeout"},
		{"hold without duration", Spec{Mode: ModeHold, Key: "space"}, "hold_duration"},
		{"short sequence", Spec{Mode: ModeSequence, Sequence: []string{"r"}, Timeout: time.Second}, "sequence"},
		{"sequence without timeout", Spec{Mode: ModeSequence, Sequence: []string{"r", "r"}}, "timeout"},
		{"voice without phrases", Spec{Mode: ModeVoice}, "phrases"},
		{"bad locale", Spec{Mode: ModeVoice, Phrases: []string{"go"}, Locale: "not a locale!"}, "locale"},
		{"cancel equals key", Spec{Mode: ModeSingle, Key: "f9", CancelKey: "F9"}, "cancel_key"},
		{"unknown mode", Spec{Mode: Mode(42)}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&virtualScheduler{timers: map[string]virtualTimer{}}, nil)
			err := d.Configure(tt.spec, ActivationMode{})
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestReconfigureDropsStaleTimers(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeHold, Key: "space", HoldDuration: 500 * time.Millisecond}, ActivationMode{})
	h.key(0, "space", true)
	stale := h.sched.timers["space"]
	require.NotZero(t, stale.token)

	require.NoError(t, h.d.Configure(Spec{Mode: ModeHold, Key: "space", HoldDuration: 500 * time.Millisecond}, ActivationMode{}))
	assert.Empty(t, h.sched.timers)

	h.feed(TimerEvent{Binding: "space", Token: stale.token, At: epoch.Add(time.Second)})
	assert.Empty(t, h.signals)
}

func TestMalformedEventsDropped(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSingle, Key: "f9"}, ActivationMode{})
	h.feed(KeyEvent{Key: "", Down: true, At: epoch})
	h.feed(KeyEvent{Key: "f9", Down: true})
	assert.Empty(t, h.signals)
}

func TestUnknownKeyNamesDropped(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeSequence, Sequence: []string{"r", "r"}, Timeout: 500 * time.Millisecond}, ActivationMode{})
	h.tap(0, "r")
	h.tap(100, "printscreen")
	h.tap(200, "r")
	assert.Equal(t, []Signal{Activate}, h.signals)

	h = newHarness(t, Spec{Mode: ModeSingle, Key: "f9"}, ActivationMode{})
	h.key(0, "blorp", true)
	assert.Empty(t, h.d.pressed)
	assert.Empty(t, h.signals)
}

func TestReleaseForgetsActiveWindow(t *testing.T) {
	h := newHarness(t, Spec{Mode: ModeDouble, Key: "rctrl", Timeout: 400 * time.Millisecond}, ActivationMode{})
	h.tap(0, "rctrl")
	h.tap(100, "rctrl")
	require.True(t, h.d.Active())

	h.d.Release()
	assert.False(t, h.d.Active())

	h.tap(2000, "rctrl")
	h.tap(2100, "rctrl")
	assert.Equal(t, []Signal{Activate, Activate}, h.signals)
}

// Across every (spec, mode) pair a random key stream never yields two
// consecutive Activates.
func TestNeverDoubleActivate(t *testing.T) {
	specs := []Spec{
		{Mode: ModeSingle, Key: "a"},
		{Mode: ModeDouble, Key: "a", Timeout: 300 * time.Millisecond},
		{Mode: ModeHold, Key: "a", HoldDuration: 200 * time.Millisecond},
		{Mode: ModeSequence, Sequence: []string{"a", "b"}, Timeout: 300 * time.Millisecond},
		{Mode: ModeSingle, Key: "a", CancelKey: "c"},
	}
	modes := []ActivationMode{
		{Kind: Direct},
		{Kind: Toggle},
		{Kind: HoldOrToggle, Threshold: 150 * time.Millisecond},
	}
	keys := []string{"a", "b", "c"}

	for _, spec := range specs {
		for _, mode := range modes {
			rng := rand.New(rand.NewSource(int64(spec.Mode)*10 + int64(mode.Kind)))
			h := newHarness(t, spec, mode)
			down := map[string]bool{}
			ms := 0
			for i := 0; i < 2000; i++ {
				ms += rng.Intn(400)
				k := keys[rng.Intn(len(keys))]
				down[k] = !down[k]
				h.key(ms, k, down[k])
			}

			last := None
			for i, s := range h.signals {
				if s == Activate {
					require.NotEqual(t, Activate, last, "%s/%s: consecutive activates at signal %d", spec.Mode, mode.Kind, i)
				}
				if s != None {
					last = s
				}
			}
		}
	}
}

type fakeHook struct {
	installErr error
	installs   int
	uninstalls int
}

func (f *fakeHook) Install(context.Context) (<-chan KeyEvent, error) {
	if f.installErr != nil {
		return nil, f.installErr
	}
	f.installs++
	return make(chan KeyEvent), nil
}

func (f *fakeHook) Uninstall() error {
	f.uninstalls++
	return nil
}

func TestHookSingleton(t *testing.T) {
	first := NewDetector(&virtualScheduler{timers: map[string]virtualTimer{}}, nil)
	second := NewDetector(&virtualScheduler{timers: map[string]virtualTimer{}}, nil)
	hook := &fakeHook{}

	_, err := first.AttachHook(context.Background(), hook)
	require.NoError(t, err)

	_, err = second.AttachHook(context.Background(), &fakeHook{})
	assert.ErrorIs(t, err, ErrHookInstalled)

	first.Stop()
	first.Stop()
	assert.Equal(t, 1, hook.uninstalls)

	_, err = second.AttachHook(context.Background(), &fakeHook{})
	require.NoError(t, err)
	second.Stop()
}

func TestHookInstallFailure(t *testing.T) {
	d := NewDetector(&virtualScheduler{timers: map[string]virtualTimer{}}, nil)
	_, err := d.AttachHook(context.Background(), &fakeHook{installErr: errors.New("accessibility permission denied")})

	var hookErr *HookInstallError
	require.ErrorAs(t, err, &hookErr)
	assert.Contains(t, hookErr.Error(), "accessibility permission denied")

	// The guard is released after a failed install.
	_, err = d.AttachHook(context.Background(), &fakeHook{})
	require.NoError(t, err)
	d.Stop()
}
