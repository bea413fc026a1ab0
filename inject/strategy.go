package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"markestedt/voicekey/platform"
)

// Strategy is one ordered fallback mechanism. Deliver returns nil on success,
// an error wrapping platform.ErrUnsupported when the mechanism is unavailable,
// and any other error for a retryable failure.
type Strategy interface {
	Name() string
	Deliver(ctx context.Context, text string) error
}

// directStrategy synthesizes unicode input in grapheme-safe chunks.
type directStrategy struct {
	typer     platform.Typer
	chunkSize int
}

func (s *directStrategy) Name() string { return "direct" }

func (s *directStrategy) Deliver(ctx context.Context, text string) error {
	chunks := Chunks(text, s.chunkSize)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			if i > 0 {
				return fmt.Errorf("%w: %d of %d chunks typed: %v", ErrPartialDelivery, i, len(chunks), err)
			}
			return err
		}
		if err := s.typer.Type(chunk); err != nil {
			if i > 0 {
				return fmt.Errorf("%w: %d of %d chunks typed: %v", ErrPartialDelivery, i, len(chunks), err)
			}
			return err
		}
	}
	return nil
}

// clipboardStrategy writes the text to the clipboard and pastes it, putting
// the user's clipboard back afterwards.
type clipboardStrategy struct {
	clipboard platform.Clipboard
	paster    platform.Paster
	settle    time.Duration
	preserve  bool
	wait      func(context.Context, time.Duration) error
}

func (s *clipboardStrategy) Name() string { return "clipboard" }

func (s *clipboardStrategy) Deliver(ctx context.Context, text string) error {
	var original string
	if s.preserve {
		var err error
		if original, err = s.clipboard.Get(); err != nil {
			return fmt.Errorf("failed to snapshot clipboard: %w", err)
		}
	}

	if err := s.clipboard.Set(text); err != nil {
		// A failed write may have emptied the clipboard already.
		s.restore(original)
		return fmt.Errorf("failed to write clipboard: %w", err)
	}

	pasteErr := s.paster.Paste()
	if s.preserve {
		// The target reads the clipboard asynchronously; restoring too early
		// pastes the old content. Cancellation must not skip the restore.
		if err := s.wait(context.WithoutCancel(ctx), s.settle); err != nil {
			slog.Warn("Clipboard settle interrupted", "error", err)
		}
		s.restore(original)
	}
	if pasteErr != nil {
		return fmt.Errorf("failed to paste: %w", pasteErr)
	}
	return nil
}

func (s *clipboardStrategy) restore(original string) {
	if !s.preserve {
		return
	}
	var err error
	if original == "" {
		err = s.clipboard.Clear()
	} else {
		err = s.clipboard.Set(original)
	}
	if err != nil {
		slog.Error("Failed to restore clipboard", "error", err)
	}
}

// scriptStrategy enters text through the OS automation interface.
type scriptStrategy struct {
	scripter platform.Scripter
}

func (s *scriptStrategy) Name() string { return "script" }

func (s *scriptStrategy) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.scripter.Keystroke(text)
}

func classify(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, platform.ErrUnsupported):
		return Unsupported
	default:
		return Failed
	}
}
