// Package session owns the capture lifecycle: Idle, Capturing, Transcribing
// and back to Idle.
//
// A Coordinator is driven by a single event-processing goroutine. Capture,
// transcription and injection results are produced by worker goroutines
// and posted back to that goroutine, which hands them to Handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"markestedt/voicekey/audio"
	"markestedt/voicekey/events"
	"markestedt/voicekey/inject"
	"markestedt/voicekey/platform"
	"markestedt/voicekey/transcribe"
)

type State int

const (
	Idle State = iota
	Capturing
	Transcribing
)

func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case Transcribing:
		return "transcribing"
	default:
		return "idle"
	}
}

// Capture is the audio source.
type Capture interface {
	Start(deviceID string) error
	Stop() (audio.AudioSegment, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.AudioSegment) (transcribe.Result, error)
}

// TextProcessor rewrites a transcription before injection.
type TextProcessor interface {
	Process(ctx context.Context, text string) (string, error)
}

// Injector delivers text into the target application.
type Injector interface {
	Deliver(ctx context.Context, text string, target platform.AppHandle) inject.Outcome
}

// CaptureError reports an unusable capture device.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s failed: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Reasons carried by activation-error and activation-cancelled events.
const (
	ReasonTooShort     = "recording too short"
	ReasonEmpty        = "empty transcription"
	ReasonCeiling      = "maximum capture duration reached"
	ReasonUserCancel   = "cancelled"
	ReasonShuttingDown = "shutting down"
)

type Options struct {
	DeviceID     string
	MaxCapture   time.Duration
	FocusSettle  time.Duration
	MinRecording time.Duration
}

// DefaultOptions returns a five minute ceiling, a 50ms focus settle delay
// and a 100ms minimum recording.
func DefaultOptions() Options {
	return Options{
		MaxCapture:   5 * time.Minute,
		FocusSettle:  50 * time.Millisecond,
		MinRecording: 100 * time.Millisecond,
	}
}

// Session is the capture currently in progress.
type Session struct {
	ID        string
	StartedAt time.Time
	Focus     platform.AppHandle
	State     State
}

// Messages posted back to the event goroutine.
type (
	TranscriptionDone struct {
		SessionID  string
		Text       string
		Confidence float64
		Err        error
	}
	InjectionDone struct {
		SessionID string
		Outcome   inject.Outcome
	}
	CeilingReached struct {
		SessionID string
	}
)

type Deps struct {
	Focus       platform.Focus
	Capture     Capture
	Transcriber Transcriber
	Processor   TextProcessor
	Injector    Injector
	Publish     func(events.Event)
	// Post delivers a worker result to the event goroutine.
	Post func(msg any)
}

type Coordinator struct {
	deps Deps
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	current *Session
	ceiling *time.Timer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an idle coordinator. Worker goroutines stop when ctx is done.
func New(ctx context.Context, deps Deps, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		deps:   deps,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// SetOptions takes effect from the next session.
func (c *Coordinator) SetOptions(opts Options) {
	c.opts = opts
}

func (c *Coordinator) State() State {
	if c.current == nil {
		return Idle
	}
	return c.current.State
}

// Current returns the session in progress.
func (c *Coordinator) Current() (Session, bool) {
	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}

// OnActivate starts a capture session. It does nothing unless Idle and
// reports whether a session started.
func (c *Coordinator) OnActivate() bool {
	if c.current != nil {
		slog.Debug("Activate ignored, session in progress", "state", c.current.State)
		return false
	}

	focus, err := c.deps.Focus.Focused()
	if err != nil {
		slog.Warn("Failed to snapshot focused application", "error", err)
		focus = platform.AppHandle{}
	}

	id := uuid.NewString()
	if err := c.deps.Capture.Start(c.opts.DeviceID); err != nil {
		cerr := &CaptureError{Op: "start", Err: err}
		slog.Error("Failed to start capture", "error", cerr)
		c.publish(events.Event{Kind: events.ActivationError, SessionID: id, Reason: cerr.Error()})
		return false
	}

	c.current = &Session{ID: id, StartedAt: c.now(), Focus: focus, State: Capturing}
	if c.opts.MaxCapture > 0 {
		c.ceiling = time.AfterFunc(c.opts.MaxCapture, func() {
			c.deps.Post(CeilingReached{SessionID: id})
		})
	}

	slog.Info("Recording started", "session", id, "app", focus.App)
	c.publish(events.Event{Kind: events.ActivationStarted, SessionID: id, Target: targetOf(focus)})
	c.publishState()
	return true
}

// OnDeactivate stops capturing and hands the audio to a transcription
// worker. It is valid only while Capturing.
func (c *Coordinator) OnDeactivate() bool {
	if c.current == nil || c.current.State != Capturing {
		return false
	}
	s := c.current
	c.stopCeiling()

	seg, err := c.deps.Capture.Stop()
	if err != nil {
		cerr := &CaptureError{Op: "stop", Err: err}
		slog.Error("Failed to stop capture", "error", cerr)
		c.finish(events.Event{Kind: events.ActivationError, Reason: cerr.Error()})
		return false
	}
	if seg.Duration < c.opts.MinRecording {
		slog.Warn("Recording too short, ignoring", "duration", seg.Duration)
		c.finish(events.Event{Kind: events.ActivationError, Reason: ReasonTooShort})
		return false
	}

	s.State = Transcribing
	c.publishState()
	slog.Info("Recording stopped, transcribing", "session", s.ID, "duration", seg.Duration)

	go c.transcribe(c.ctx, s.ID, seg)
	return true
}

// OnCancel discards an in-progress capture. Transcriptions already running
// are not interrupted.
func (c *Coordinator) OnCancel() bool {
	if c.current == nil || c.current.State != Capturing {
		return false
	}
	c.discard(ReasonUserCancel)
	return true
}

// Handle processes a worker message. It returns false for messages that
// are not addressed to the coordinator.
func (c *Coordinator) Handle(msg any) bool {
	switch m := msg.(type) {
	case CeilingReached:
		if c.isCurrent(m.SessionID) && c.current.State == Capturing {
			slog.Warn("Maximum capture duration reached", "session", m.SessionID, "limit", c.opts.MaxCapture)
			c.discard(ReasonCeiling)
		}
	case TranscriptionDone:
		c.onTranscription(m)
	case InjectionDone:
		c.onInjection(m)
	default:
		return false
	}
	return true
}

// Close discards any capture and stops workers.
func (c *Coordinator) Close() {
	if c.current != nil && c.current.State == Capturing {
		c.discard(ReasonShuttingDown)
	}
	c.cancel()
}

func (c *Coordinator) onTranscription(m TranscriptionDone) {
	if !c.isCurrent(m.SessionID) || c.current.State != Transcribing {
		slog.Warn("Discarding stale transcription", "session", m.SessionID)
		return
	}

	if m.Err != nil {
		slog.Error("Transcription failed", "session", m.SessionID, "error", m.Err)
		ev := events.Event{Kind: events.ActivationError, Reason: m.Err.Error()}
		var terr *transcribe.Error
		if errors.As(m.Err, &terr) {
			ev.Text = terr.Partial
		}
		c.finish(ev)
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		slog.Warn("Empty transcription", "session", m.SessionID)
		c.finish(events.Event{Kind: events.ActivationError, Reason: ReasonEmpty})
		return
	}

	s := c.current
	slog.Info("Transcribed", "session", s.ID, "chars", len(text))
	c.publish(events.Event{
		Kind:       events.ActivationResult,
		SessionID:  s.ID,
		Text:       text,
		Confidence: m.Confidence,
		Target:     targetOf(s.Focus),
	})

	go c.inject(c.ctx, s.ID, text, s.Focus)
}

func (c *Coordinator) onInjection(m InjectionDone) {
	o := m.Outcome
	c.publish(events.Event{Kind: events.InjectionOutcome, SessionID: m.SessionID, Text: o.Text, Reason: o.Reason, Injection: &o, Target: targetOf(o.Target)})
	if o.Status == inject.Failed {
		slog.Error("Injection failed", "session", m.SessionID, "reason", o.Reason)
		c.publish(events.Event{Kind: events.InjectionFailed, SessionID: m.SessionID, Text: o.Text, Reason: o.Reason, Target: targetOf(o.Target)})
	} else {
		slog.Info("Injection finished", "session", m.SessionID, "status", o.Status, "reason", o.Reason)
	}

	if c.isCurrent(m.SessionID) {
		c.current = nil
		c.publishState()
	}
}

func (c *Coordinator) transcribe(ctx context.Context, id string, seg audio.AudioSegment) {
	done := TranscriptionDone{SessionID: id}
	res, err := c.deps.Transcriber.Transcribe(ctx, seg)
	if err != nil {
		done.Err = err
		c.deps.Post(done)
		return
	}

	text := res.Text
	if c.deps.Processor != nil && strings.TrimSpace(text) != "" {
		out, err := c.deps.Processor.Process(ctx, text)
		if err != nil {
			slog.Warn("Post-processing failed, using raw transcription", "error", err)
		} else {
			text = out
		}
	}
	done.Text = text
	done.Confidence = res.Confidence
	c.deps.Post(done)
}

func (c *Coordinator) inject(ctx context.Context, id, text string, target platform.AppHandle) {
	if !target.IsZero() {
		if err := c.deps.Focus.Activate(target); err != nil {
			slog.Warn("Failed to restore focus", "app", target.App, "error", err)
		}
		if err := c.sleep(ctx, c.opts.FocusSettle); err != nil {
			slog.Debug("Focus settle interrupted", "error", err)
		}
	}
	outcome := c.deps.Injector.Deliver(ctx, text, target)
	c.deps.Post(InjectionDone{SessionID: id, Outcome: outcome})
}

// discard ends a capturing session without transcribing.
func (c *Coordinator) discard(reason string) {
	c.stopCeiling()
	if _, err := c.deps.Capture.Stop(); err != nil {
		slog.Warn("Failed to stop capture", "error", err)
	}
	slog.Info("Recording discarded", "session", c.current.ID, "reason", reason)
	c.finish(events.Event{Kind: events.ActivationCancelled, Reason: reason})
}

// finish publishes ev for the current session and returns to Idle.
func (c *Coordinator) finish(ev events.Event) {
	s := c.current
	ev.SessionID = s.ID
	ev.Target = targetOf(s.Focus)
	c.current = nil
	c.publish(ev)
	c.publishState()
}

func (c *Coordinator) isCurrent(id string) bool {
	return c.current != nil && c.current.ID == id
}

func (c *Coordinator) stopCeiling() {
	if c.ceiling != nil {
		c.ceiling.Stop()
		c.ceiling = nil
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	if c.deps.Publish != nil {
		c.deps.Publish(ev)
	}
}

func (c *Coordinator) publishState() {
	ev := events.Event{Kind: events.SessionState, State: c.State().String()}
	if c.current != nil {
		ev.SessionID = c.current.ID
	}
	c.publish(ev)
}

func targetOf(h platform.AppHandle) *platform.AppHandle {
	if h.IsZero() {
		return nil
	}
	return &h
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
