// Package transcribe turns captured audio into text.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"markestedt/voicekey/audio"
	"markestedt/voicekey/config"
)

// Result is a finished transcription.
type Result struct {
	Text string
	// Confidence is in [0,1]; 1 when the provider reports none.
	Confidence float64
	Duration   time.Duration
}

// Provider defines the interface for speech-to-text transcription
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, seg audio.AudioSegment) (Result, error)
}

// Error is a failed transcription. Partial holds any text recognised before
// the failure so it can still be shown to the user.
type Error struct {
	Provider string
	Partial  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transcription failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewProvider creates a transcription provider based on configuration
func NewProvider(cfg config.TranscriptionConfig) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai_api_key is required for OpenAI provider")
		}
		p = NewOpenAIProvider(OpenAIOptions{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.Model,
			Language: cfg.Language,
			Prompt:   cfg.Prompt,
			BaseURL:  cfg.BaseURL,
			Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}

	if cfg.ChunkSeconds > 0 {
		p = &Chunked{Provider: p, Max: time.Duration(cfg.ChunkSeconds) * time.Second}
	}
	return p, nil
}

// Chunked splits long recordings into pieces of at most Max and joins the
// results. If a piece fails, the text of the earlier pieces is returned as
// the error's partial text.
type Chunked struct {
	Provider
	Max time.Duration
}

func (c *Chunked) Transcribe(ctx context.Context, seg audio.AudioSegment) (Result, error) {
	parts := seg.Split(c.Max)
	if len(parts) == 1 {
		return c.Provider.Transcribe(ctx, seg)
	}

	var (
		texts   []string
		confSum float64
		total   time.Duration
	)
	for i, part := range parts {
		r, err := c.Provider.Transcribe(ctx, part)
		if err != nil {
			partial := strings.Join(texts, " ")
			var terr *Error
			if errors.As(err, &terr) && terr.Partial != "" {
				partial = strings.TrimSpace(partial + " " + terr.Partial)
			}
			return Result{}, &Error{
				Provider: c.Name(),
				Partial:  partial,
				Err:      fmt.Errorf("chunk %d of %d: %w", i+1, len(parts), err),
			}
		}
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
		confSum += r.Confidence
		total += r.Duration
	}

	return Result{
		Text:       strings.Join(texts, " "),
		Confidence: confSum / float64(len(parts)),
		Duration:   total,
	}, nil
}
