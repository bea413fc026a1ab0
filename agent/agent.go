// Package agent runs the single event loop that connects trigger detection
// to the capture session. Raw input, timer firings, worker results and API
// requests all pass through one channel so detector and session state have
// a single writer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"markestedt/voicekey/events"
	"markestedt/voicekey/session"
	"markestedt/voicekey/trigger"
)

var (
	// ErrStopped is returned by requests made after the loop has exited.
	ErrStopped = errors.New("agent stopped")
	// ErrTestInProgress is returned when a trigger test is already running.
	ErrTestInProgress = errors.New("trigger test already in progress")
	// ErrNoTrigger is returned when a trigger test starts with no trigger
	// registered.
	ErrNoTrigger = errors.New("no trigger registered")
)

const inboxSize = 256

// Status is a snapshot of the agent for API callers.
type Status struct {
	State      string         `json:"state"`
	SessionID  string         `json:"session_id,omitempty"`
	Configured bool           `json:"configured"`
	Trigger    *TriggerStatus `json:"trigger,omitempty"`
	Testing    bool           `json:"testing"`
}

type TriggerStatus struct {
	Mode           string   `json:"mode"`
	Key            string   `json:"key,omitempty"`
	Keys           []string `json:"keys,omitempty"`
	Phrases        []string `json:"phrases,omitempty"`
	CancelKey      string   `json:"cancel_key,omitempty"`
	ActivationMode string   `json:"activation_mode"`
}

type Agent struct {
	bus      *events.Bus
	inbox    chan any
	done     chan struct{}
	detector *trigger.Detector
	coord    *session.Coordinator
	sched    *timerScheduler

	test *testWindow
}

type testWindow struct {
	signals []trigger.Signal
	reply   chan []trigger.Signal
	timer   *time.Timer
}

// Requests handled on the loop goroutine.
type (
	registerReq struct {
		spec  trigger.Spec
		mode  trigger.ActivationMode
		reply chan error
	}
	unregisterReq struct {
		reply chan error
	}
	testStartReq struct {
		duration time.Duration
		reply    chan []trigger.Signal
		err      chan error
	}
	testEndMsg    struct{ window *testWindow }
	statusReq     struct{ reply chan Status }
	setOptionsReq struct{ opts session.Options }
)

// New wires a detector and a session coordinator around deps. deps.Publish
// and deps.Post are supplied by the agent.
func New(ctx context.Context, deps session.Deps, opts session.Options, bus *events.Bus) *Agent {
	a := &Agent{
		bus:   bus,
		inbox: make(chan any, inboxSize),
		done:  make(chan struct{}),
	}
	deps.Publish = bus.Publish
	deps.Post = a.post
	a.coord = session.New(ctx, deps, opts)
	a.sched = newTimerScheduler(a.post)
	a.detector = trigger.NewDetector(a.sched, func() bool {
		return a.coord.State() != session.Idle
	})
	return a
}

// post hands msg to the loop. It drops msg once the loop has exited.
func (a *Agent) post(msg any) {
	select {
	case a.inbox <- msg:
	case <-a.done:
	}
}

// Run processes events until ctx is done. When hook is non-nil it is
// installed as the global input hook first; a failure to install it is
// returned immediately.
func (a *Agent) Run(ctx context.Context, hook trigger.HookSource) error {
	defer close(a.done)
	defer a.shutdown()

	if hook != nil {
		keys, err := a.detector.AttachHook(ctx, hook)
		if err != nil {
			return err
		}
		go a.forward(ctx, keys)
	}

	slog.Info("Agent started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.inbox:
			a.handle(msg)
		}
	}
}

func (a *Agent) forward(ctx context.Context, keys <-chan trigger.KeyEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-keys:
			if !ok {
				return
			}
			a.post(ev)
		}
	}
}

func (a *Agent) shutdown() {
	a.sched.stopAll()
	a.coord.Close()
	a.detector.Stop()
	if a.test != nil {
		a.test.timer.Stop()
		a.test.reply <- a.test.signals
		a.test = nil
	}
	slog.Info("Agent stopped")
}

func (a *Agent) handle(msg any) {
	switch m := msg.(type) {
	case trigger.Event:
		a.feed(m)
	case registerReq:
		err := a.detector.Configure(m.spec, m.mode)
		m.reply <- err
	case unregisterReq:
		m.reply <- a.detector.Clear()
	case testStartReq:
		a.startTest(m)
	case testEndMsg:
		a.endTest(m.window)
	case statusReq:
		m.reply <- a.status()
	case setOptionsReq:
		a.coord.SetOptions(m.opts)
	default:
		if !a.coord.Handle(msg) {
			slog.Warn("Dropping unknown message", "type", fmt.Sprintf("%T", msg))
		}
	}

	// A session that ended on its own leaves the detector latched.
	if a.coord.State() == session.Idle && a.detector.Active() && a.test == nil {
		slog.Debug("Releasing trigger after session ended")
		a.detector.Release()
	}
}

func (a *Agent) feed(ev trigger.Event) {
	sig, ok := a.detector.Feed(ev)
	if !ok {
		return
	}
	slog.Debug("Trigger signal", "signal", sig, "state", a.coord.State())
	a.bus.Publish(events.Event{Kind: events.TriggerSignal, Signal: sig.String(), At: time.Now()})

	if a.test != nil {
		a.test.signals = append(a.test.signals, sig)
		return
	}
	switch sig {
	case trigger.Activate:
		a.coord.OnActivate()
	case trigger.Deactivate:
		a.coord.OnDeactivate()
	case trigger.Cancel:
		a.coord.OnCancel()
	}
}

func (a *Agent) startTest(m testStartReq) {
	if a.test != nil {
		m.err <- ErrTestInProgress
		return
	}
	if a.coord.State() != session.Idle {
		m.err <- trigger.ErrSessionActive
		return
	}
	if _, _, ok := a.detector.Spec(); !ok {
		m.err <- ErrNoTrigger
		return
	}
	w := &testWindow{reply: m.reply}
	w.timer = time.AfterFunc(m.duration, func() { a.post(testEndMsg{window: w}) })
	a.test = w
	m.err <- nil
	slog.Info("Trigger test started", "duration", m.duration)
}

func (a *Agent) endTest(w *testWindow) {
	if a.test != w {
		return
	}
	a.test = nil
	if a.detector.Active() {
		a.detector.Release()
	}
	w.reply <- w.signals
	slog.Info("Trigger test finished", "signals", len(w.signals))
}

func (a *Agent) status() Status {
	st := Status{State: a.coord.State().String(), Testing: a.test != nil}
	if s, ok := a.coord.Current(); ok {
		st.SessionID = s.ID
	}
	if spec, mode, ok := a.detector.Spec(); ok {
		st.Configured = true
		st.Trigger = &TriggerStatus{
			Mode:           spec.Mode.String(),
			Key:            spec.Key,
			Keys:           spec.Sequence,
			Phrases:        spec.Phrases,
			CancelKey:      spec.CancelKey,
			ActivationMode: mode.Kind.String(),
		}
	}
	return st
}

// request posts msg and waits for the loop to answer on reply.
func request[T any](ctx context.Context, a *Agent, msg any, reply chan T) (T, error) {
	var zero T
	select {
	case a.inbox <- msg:
	case <-a.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Feed submits a raw input event, such as a phrase from a speech recognizer.
func (a *Agent) Feed(ev trigger.Event) {
	a.post(ev)
}

// RegisterTrigger replaces the active trigger. It fails with
// trigger.ErrSessionActive while a session is in progress and with a
// *trigger.ConfigError for an invalid spec.
func (a *Agent) RegisterTrigger(ctx context.Context, spec trigger.Spec, mode trigger.ActivationMode) error {
	reply := make(chan error, 1)
	err, rerr := request(ctx, a, registerReq{spec: spec, mode: mode, reply: reply}, reply)
	if rerr != nil {
		return rerr
	}
	return err
}

// UnregisterTrigger removes the active trigger.
func (a *Agent) UnregisterTrigger(ctx context.Context) error {
	reply := make(chan error, 1)
	err, rerr := request(ctx, a, unregisterReq{reply: reply}, reply)
	if rerr != nil {
		return rerr
	}
	return err
}

// TestTrigger observes the signals the registered trigger produces for
// duration without starting any capture.
func (a *Agent) TestTrigger(ctx context.Context, duration time.Duration) ([]trigger.Signal, error) {
	reply := make(chan []trigger.Signal, 1)
	errc := make(chan error, 1)
	err, rerr := request(ctx, a, testStartReq{duration: duration, reply: reply, err: errc}, errc)
	if rerr != nil {
		return nil, rerr
	}
	if err != nil {
		return nil, err
	}

	select {
	case signals := <-reply:
		return signals, nil
	case <-a.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the current session and trigger state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	return request(ctx, a, statusReq{reply: reply}, reply)
}

// SetSessionOptions applies to the next session.
func (a *Agent) SetSessionOptions(opts session.Options) {
	a.post(setOptionsReq{opts: opts})
}
