// Package postprocess rewrites transcribed text before it is injected.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"

	"markestedt/voicekey/config"
)

// Processor is a function that transforms text
type Processor func(ctx context.Context, text string) (string, error)

// Pipeline runs a series of processors in sequence
type Pipeline struct {
	processors []Processor
}

// NewPipeline creates a new processing pipeline
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{
		processors: processors,
	}
}

// FromConfig builds the pipeline described by cfg. The dictionary is
// returned as well so its terms can bias transcription.
func FromConfig(cfg config.PostprocessConfig) (*Pipeline, *Dictionary, error) {
	dict, err := LoadDictionary(cfg.DictionaryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dictionary: %w", err)
	}

	p := NewPipeline()
	if cfg.VoiceCommands {
		p.AddProcessor(CommandProcessor(DefaultVoiceCommands()))
	}
	if len(dict.Entries) > 0 {
		p.AddProcessor(DictionaryProcessor(dict))
	}
	return p, dict, nil
}

// Process runs all processors in sequence. On failure the text produced so
// far is returned with the error.
func (p *Pipeline) Process(ctx context.Context, text string) (string, error) {
	if p == nil {
		return text, nil
	}
	result := text
	for i, proc := range p.processors {
		out, err := proc(ctx, result)
		if err != nil {
			slog.Error("Processor failed", "index", i, "error", err)
			return result, err
		}
		result = out
	}
	return result, nil
}

// AddProcessor adds a processor to the pipeline
func (p *Pipeline) AddProcessor(proc Processor) {
	p.processors = append(p.processors, proc)
}
