package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"markestedt/voicekey/audio"
)

const defaultBaseURL = "https://api.openai.com/v1"

const basePrompt = "Transcribe the following audio with proper grammar, punctuation, and capitalization. " +
	"Ensure sentences start with capital letters and end with appropriate punctuation marks. " +
	"Format the output as natural, well-structured text in the configured language."

type OpenAIOptions struct {
	APIKey   string
	Model    string
	Language string
	// Prompt is appended to the built-in prompt.
	Prompt  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIProvider implements transcription using OpenAI's Whisper API
type OpenAIProvider struct {
	apiKey   string
	model    string
	language string
	prompt   string
	baseURL  string
	client   *http.Client
}

// NewOpenAIProvider creates a new OpenAI transcription provider
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	if opts.Model == "" {
		opts.Model = "whisper-1"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	prompt := basePrompt
	if opts.Prompt != "" {
		prompt += " " + opts.Prompt
	}
	return &OpenAIProvider{
		apiKey:   opts.APIKey,
		model:    opts.Model,
		language: opts.Language,
		prompt:   prompt,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type verboseResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe sends audio to OpenAI's Whisper API for transcription
func (p *OpenAIProvider) Transcribe(ctx context.Context, seg audio.AudioSegment) (Result, error) {
	start := time.Now()
	text, conf, err := p.transcribe(ctx, seg)
	if err != nil {
		return Result{}, &Error{Provider: p.Name(), Err: err}
	}
	return Result{Text: text, Confidence: conf, Duration: time.Since(start)}, nil
}

func (p *OpenAIProvider) transcribe(ctx context.Context, seg audio.AudioSegment) (string, float64, error) {
	wavData, err := seg.ToWAV()
	if err != nil {
		return "", 0, fmt.Errorf("failed to convert to WAV: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return "", 0, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", p.model},
		{"response_format", "verbose_json"},
		{"prompt", p.prompt},
	}
	if p.language != "" {
		fields = append(fields, [2]string{"language", p.language})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return "", 0, fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close writer: %w", err)
	}

	slog.Debug("Sending audio for transcription",
		"bytes", len(wavData), "seconds", seg.Duration.Seconds(), "language", p.language, "model", p.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result verboseResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return strings.TrimSpace(result.Text), confidence(result), nil
}

// confidence maps the mean segment log probability to a probability.
func confidence(r verboseResponse) float64 {
	if len(r.Segments) == 0 {
		return 1
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.AvgLogprob
	}
	return math.Min(1, math.Exp(sum/float64(len(r.Segments))))
}
