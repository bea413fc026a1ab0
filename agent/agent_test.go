package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/voicekey/audio"
	"markestedt/voicekey/events"
	"markestedt/voicekey/inject"
	"markestedt/voicekey/platform"
	"markestedt/voicekey/session"
	"markestedt/voicekey/transcribe"
	"markestedt/voicekey/trigger"
)

type fakeFocus struct{}

func (fakeFocus) Focused() (platform.AppHandle, error) {
	return platform.AppHandle{ID: "7", App: "TextEdit"}, nil
}
func (fakeFocus) Activate(platform.AppHandle) error { return nil }

type fakeCapture struct {
	mu       sync.Mutex
	starts   int
	startErr error
}

func (c *fakeCapture) Start(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeCapture) Stop() (audio.AudioSegment, error) {
	return audio.AudioSegment{Duration: 600 * time.Millisecond}, nil
}

func (c *fakeCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, audio.AudioSegment) (transcribe.Result, error) {
	return transcribe.Result{Text: s.text, Confidence: 1}, nil
}

type fakeTyper struct {
	mu    sync.Mutex
	typed strings.Builder
	err   error
}

func (f *fakeTyper) Type(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.typed.WriteString(text)
	return nil
}

type fakeClipboard struct {
	mu      sync.Mutex
	content string
	pasted  []string
}

func (c *fakeClipboard) Get() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, nil
}

func (c *fakeClipboard) Set(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = text
	return nil
}

func (c *fakeClipboard) Clear() error { return c.Set("") }

func (c *fakeClipboard) Paste() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pasted = append(c.pasted, c.content)
	return nil
}

type env struct {
	agent     *Agent
	capture   *fakeCapture
	typer     *fakeTyper
	clipboard *fakeClipboard
	events    <-chan events.Event
	ctx       context.Context
}

func start(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	e := &env{
		capture:   &fakeCapture{},
		typer:     &fakeTyper{},
		clipboard: &fakeClipboard{content: "user clipboard"},
		ctx:       ctx,
	}

	cfg := inject.DefaultConfig()
	cfg.InjectDelay = 0
	cfg.ClipboardSettle = 10 * time.Millisecond
	cfg.RetryInterval = time.Millisecond
	pipeline := inject.New(e.typer, e.clipboard, e.clipboard, nil, cfg)

	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(128)
	e.events = ch

	opts := session.DefaultOptions()
	opts.FocusSettle = 0
	e.agent = New(ctx, session.Deps{
		Focus:       fakeFocus{},
		Capture:     e.capture,
		Transcriber: stubTranscriber{text: "hello world"},
		Injector:    pipeline,
	}, opts, bus)

	done := make(chan error, 1)
	go func() { done <- e.agent.Run(ctx, nil) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		unsubscribe()
	})
	return e
}

func (e *env) waitFor(t *testing.T, match func(events.Event) bool) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-e.events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return events.Event{}
		}
	}
}

func isState(state string) func(events.Event) bool {
	return func(ev events.Event) bool { return ev.Kind == events.SessionState && ev.State == state }
}

func isKind(k events.Kind) func(events.Event) bool {
	return func(ev events.Event) bool { return ev.Kind == k }
}

func key(name string, down bool) trigger.KeyEvent {
	return trigger.KeyEvent{Key: name, Down: down, At: time.Now()}
}

func TestHoldTriggerEndToEnd(t *testing.T) {
	e := start(t)
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeHold, Key: "space", HoldDuration: 500 * time.Millisecond},
		trigger.ActivationMode{Kind: trigger.Direct}))

	pressed := time.Now()
	e.agent.Feed(key("space", true))
	e.waitFor(t, isState("capturing"))
	assert.GreaterOrEqual(t, time.Since(pressed), 500*time.Millisecond)

	time.Sleep(time.Until(pressed.Add(600 * time.Millisecond)))
	e.agent.Feed(key("space", false))
	e.waitFor(t, isState("transcribing"))

	ev := e.waitFor(t, isKind(events.InjectionOutcome))
	require.NotNil(t, ev.Injection)
	require.NotEmpty(t, ev.Injection.Tried)
	assert.Equal(t, "direct", ev.Injection.Tried[0].Strategy)
	assert.Equal(t, inject.Success, ev.Injection.Status)
	assert.Equal(t, "hello world", e.typer.typed.String())
	assert.Equal(t, "TextEdit", ev.Injection.Target.App)

	e.waitFor(t, isState("idle"))
	assert.Equal(t, 1, e.capture.count())
}

func TestHoldReleasedEarlyStartsNothing(t *testing.T) {
	e := start(t)
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeHold, Key: "space", HoldDuration: 200 * time.Millisecond},
		trigger.ActivationMode{}))

	e.agent.Feed(key("space", true))
	time.Sleep(50 * time.Millisecond)
	e.agent.Feed(key("space", false))
	time.Sleep(300 * time.Millisecond)

	st, err := e.agent.Status(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, e.capture.count())
}

func TestClipboardFallbackEndToEnd(t *testing.T) {
	e := start(t)
	e.typer.err = platform.ErrUnsupported
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeSingle, Key: "f9"}, trigger.ActivationMode{}))

	e.agent.Feed(key("f9", true))
	e.waitFor(t, isState("capturing"))
	e.agent.Feed(key("f9", false))

	ev := e.waitFor(t, isKind(events.InjectionOutcome))
	assert.Equal(t, inject.Success, ev.Injection.Status)
	assert.Equal(t, []inject.Status{inject.Unsupported, inject.Success}, ev.Injection.Statuses())
	assert.Equal(t, []string{"hello world"}, e.clipboard.pasted)

	content, _ := e.clipboard.Get()
	assert.Equal(t, "user clipboard", content)
}

func TestRegisterRejectedWhileCapturing(t *testing.T) {
	e := start(t)
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeSingle, Key: "f9"}, trigger.ActivationMode{}))

	e.agent.Feed(key("f9", true))
	e.waitFor(t, isState("capturing"))

	err := e.agent.RegisterTrigger(e.ctx, trigger.Spec{Mode: trigger.ModeSingle, Key: "f10"}, trigger.ActivationMode{})
	assert.ErrorIs(t, err, trigger.ErrSessionActive)
	assert.ErrorIs(t, e.agent.UnregisterTrigger(e.ctx), trigger.ErrSessionActive)

	st, err := e.agent.Status(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, "capturing", st.State)
	assert.Equal(t, "f9", st.Trigger.Key)
}

func TestRegisterInvalidSpec(t *testing.T) {
	e := start(t)
	err := e.agent.RegisterTrigger(e.ctx, trigger.Spec{Mode: trigger.ModeSingle, Key: "cmd+tab"}, trigger.ActivationMode{})
	var cerr *trigger.ConfigError
	assert.ErrorAs(t, err, &cerr)

	require.NoError(t, e.agent.RegisterTrigger(e.ctx, trigger.Spec{Mode: trigger.ModeSingle, Key: "f9"}, trigger.ActivationMode{}))
	require.NoError(t, e.agent.UnregisterTrigger(e.ctx))
	st, err := e.agent.Status(e.ctx)
	require.NoError(t, err)
	assert.False(t, st.Configured)
}

func TestTriggerTestCollectsWithoutCapturing(t *testing.T) {
	e := start(t)
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeSingle, Key: "f9"}, trigger.ActivationMode{}))

	type result struct {
		signals []trigger.Signal
		err     error
	}
	res := make(chan result, 1)
	go func() {
		s, err := e.agent.TestTrigger(e.ctx, 400*time.Millisecond)
		res <- result{s, err}
	}()

	require.Eventually(t, func() bool {
		st, err := e.agent.Status(e.ctx)
		return err == nil && st.Testing
	}, time.Second, 5*time.Millisecond)

	_, err := e.agent.TestTrigger(e.ctx, time.Millisecond)
	assert.ErrorIs(t, err, ErrTestInProgress)

	e.agent.Feed(key("f9", true))
	e.agent.Feed(key("f9", false))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, []trigger.Signal{trigger.Activate, trigger.Deactivate}, r.signals)
	assert.Zero(t, e.capture.count())
}

func TestTriggerTestNeedsTrigger(t *testing.T) {
	e := start(t)
	_, err := e.agent.TestTrigger(e.ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoTrigger)
}

func TestCaptureErrorReleasesTrigger(t *testing.T) {
	e := start(t)
	e.capture.startErr = errors.New("microphone busy")
	require.NoError(t, e.agent.RegisterTrigger(e.ctx,
		trigger.Spec{Mode: trigger.ModeSingle, Key: "f9"}, trigger.ActivationMode{Kind: trigger.Toggle}))

	e.agent.Feed(key("f9", true))
	ev := e.waitFor(t, isKind(events.ActivationError))
	assert.Contains(t, ev.Reason, "microphone busy")
	e.agent.Feed(key("f9", false))

	// The next press must be an Activate again, not a toggle-off.
	e.agent.Feed(key("f9", true))
	e.waitFor(t, isKind(events.ActivationError))
	assert.Equal(t, 2, e.capture.count())
}

func TestRequestsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := New(ctx, session.Deps{Focus: fakeFocus{}, Capture: &fakeCapture{}}, session.DefaultOptions(), events.NewBus())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, nil) }()
	cancel()
	require.NoError(t, <-done)

	_, err := a.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
