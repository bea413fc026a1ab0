// Package inject delivers transcribed text into the focused application
// through an ordered set of fallback strategies.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"markestedt/voicekey/platform"
)

// Config holds the recognized injection options.
type Config struct {
	AutoInjectEnabled bool
	InjectDelay       time.Duration
	// UseKeyboardSimulation skips the direct typing strategy so delivery
	// starts at the clipboard strategy.
	UseKeyboardSimulation bool
	PreserveClipboard     bool
	DuplicateDetection    bool
	DuplicateWindow       time.Duration
	// TargetAppFilter, when non-empty, lists the only applications that
	// may receive text.
	TargetAppFilter []string

	ChunkSize       int
	ClipboardSettle time.Duration
	RetryAttempts   int
	RetryInterval   time.Duration
}

// DefaultConfig returns the default injection options.
func DefaultConfig() Config {
	return Config{
		AutoInjectEnabled:     true,
		InjectDelay:           100 * time.Millisecond,
		UseKeyboardSimulation: false,
		PreserveClipboard:     true,
		DuplicateDetection:    true,
		DuplicateWindow:       2 * time.Second,
		ChunkSize:             DefaultChunkSize,
		ClipboardSettle:       300 * time.Millisecond,
		RetryAttempts:         3,
		RetryInterval:         200 * time.Millisecond,
	}
}

type lastDelivery struct {
	text   string
	target string
	at     time.Time
}

// Pipeline runs injection attempts one at a time.
type Pipeline struct {
	typer     platform.Typer
	clipboard platform.Clipboard
	paster    platform.Paster
	scripter  platform.Scripter

	cfg atomic.Pointer[Config]

	// mu serializes attempts; the clipboard is only touched while it is held.
	mu   sync.Mutex
	last lastDelivery

	wait func(context.Context, time.Duration) error
	now  func() time.Time
}

// New creates a pipeline over the platform adapters.
func New(typer platform.Typer, clipboard platform.Clipboard, paster platform.Paster, scripter platform.Scripter, cfg Config) *Pipeline {
	p := &Pipeline{
		typer:     typer,
		clipboard: clipboard,
		paster:    paster,
		scripter:  scripter,
		wait:      sleep,
		now:       time.Now,
	}
	p.SetConfig(cfg)
	return p
}

// SetConfig replaces the options used by Deliver.
func (p *Pipeline) SetConfig(cfg Config) {
	p.cfg.Store(&cfg)
}

// Config returns the options used by Deliver.
func (p *Pipeline) Config() Config {
	return *p.cfg.Load()
}

// Deliver injects text with the pipeline's current options.
func (p *Pipeline) Deliver(ctx context.Context, text string, target platform.AppHandle) Outcome {
	return p.Inject(ctx, text, target, p.Config())
}

// Inject delivers text into target, trying each enabled strategy in order.
// It never returns without text attached to the outcome.
func (p *Pipeline) Inject(ctx context.Context, text string, target platform.AppHandle, cfg Config) Outcome {
	start := p.now()
	out := Outcome{Text: text, Target: target}
	finish := func(status Status, reason string) Outcome {
		out.Status, out.Reason = status, reason
		out.Duration = p.now().Sub(start)
		return out
	}

	if strings.TrimSpace(text) == "" {
		return finish(Skipped, ReasonEmpty)
	}
	if !cfg.AutoInjectEnabled {
		return finish(Skipped, ReasonDisabled)
	}
	if !allowed(target, cfg.TargetAppFilter) {
		slog.Info("Target not in filter, skipping injection", "app", target.App)
		return finish(Skipped, ReasonFiltered)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := targetKey(target)
	if cfg.DuplicateDetection && p.last.text == text && p.last.target == key &&
		p.now().Sub(p.last.at) < cfg.DuplicateWindow {
		slog.Info("Duplicate injection suppressed", "app", target.App)
		return finish(Skipped, ReasonDuplicate)
	}

	if err := p.wait(ctx, cfg.InjectDelay); err != nil {
		return finish(Failed, ReasonCancelled)
	}

	var reasons []string
	for _, s := range p.strategies(cfg) {
		report, err := p.attempt(ctx, s, text, cfg)
		out.Tried = append(out.Tried, report)
		switch {
		case report.Status == Success:
			p.last = lastDelivery{text: text, target: key, at: p.now()}
			slog.Info("Text injected", "strategy", s.Name(), "attempts", report.Attempts, "chars", len([]rune(text)))
			return finish(Success, "")
		case errors.Is(err, ErrPartialDelivery):
			slog.Error("Injection stopped after partial delivery", "strategy", s.Name(), "error", err)
			return finish(Failed, ReasonPartialText+": "+report.Reason)
		case ctx.Err() != nil:
			return finish(Failed, ReasonCancelled)
		}
		slog.Debug("Injection strategy did not succeed", "strategy", s.Name(), "status", report.Status, "reason", report.Reason)
		reasons = append(reasons, s.Name()+": "+report.Reason)
	}

	slog.Error("Injection failed", "app", target.App, "tried", len(out.Tried))
	if len(reasons) == 0 {
		return finish(Failed, ReasonExhausted)
	}
	return finish(Failed, ReasonExhausted+" ("+strings.Join(reasons, "; ")+")")
}

func (p *Pipeline) strategies(cfg Config) []Strategy {
	var list []Strategy
	if !cfg.UseKeyboardSimulation && p.typer != nil {
		list = append(list, &directStrategy{typer: p.typer, chunkSize: cfg.ChunkSize})
	}
	if p.clipboard != nil && p.paster != nil {
		list = append(list, &clipboardStrategy{
			clipboard: p.clipboard,
			paster:    p.paster,
			settle:    cfg.ClipboardSettle,
			preserve:  cfg.PreserveClipboard,
			wait:      p.wait,
		})
	}
	if p.scripter != nil {
		list = append(list, &scriptStrategy{scripter: p.scripter})
	}
	return list
}

// attempt runs one strategy with bounded retry. Unsupported and partial
// deliveries are never retried.
func (p *Pipeline) attempt(ctx context.Context, s Strategy, text string, cfg Config) (Report, error) {
	report := Report{Strategy: s.Name()}
	tries := cfg.RetryAttempts
	if tries < 1 {
		tries = 1
	}

	op := func() (struct{}, error) {
		report.Attempts++
		err := s.Deliver(ctx, text)
		if err == nil {
			return struct{}{}, nil
		}
		if classify(err) == Unsupported || errors.Is(err, ErrPartialDelivery) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.RetryInterval)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Injection strategy failed, retrying", "strategy", s.Name(), "error", err, "next", next)
		}),
	)

	report.Status = classify(err)
	if err != nil {
		report.Reason = err.Error()
	}
	return report, err
}

func allowed(target platform.AppHandle, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, app := range filter {
		if target.Matches(strings.TrimSpace(app)) {
			return true
		}
	}
	return false
}

func targetKey(h platform.AppHandle) string {
	if h.ID != "" {
		return h.ID
	}
	return h.App
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Error is the terminal injection failure carried by events and storage.
type Error struct {
	Text   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("injection failed: %s", e.Reason)
}

// Err converts a non-successful outcome into an *Error.
func (o Outcome) Err() error {
	if o.Status == Success || o.Status == Skipped {
		return nil
	}
	return &Error{Text: o.Text, Reason: o.Reason}
}
