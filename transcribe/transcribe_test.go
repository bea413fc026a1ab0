package transcribe

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/voicekey/audio"
	"markestedt/voicekey/config"
)

func segment(seconds int) audio.AudioSegment {
	const rate = 100
	return audio.AudioSegment{
		Data:       make([]byte, seconds*rate*2),
		SampleRate: rate,
		Channels:   1,
		Duration:   time.Duration(seconds) * time.Second,
	}
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "de", r.FormValue("language"))
		assert.Contains(t, r.FormValue("prompt"), "Kubernetes")

		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		wav, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(wav[:4]))

		_, _ = io.WriteString(w, `{"text":" Hallo Welt ","segments":[{"avg_logprob":-0.1},{"avg_logprob":-0.3}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIOptions{APIKey: "sk-test", Language: "de", Prompt: "Kubernetes", BaseURL: srv.URL + "/"})
	res, err := p.Transcribe(context.Background(), segment(1))
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", res.Text)
	assert.InDelta(t, math.Exp(-0.2), res.Confidence, 1e-9)
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIOptions{APIKey: "sk-bad", BaseURL: srv.URL})
	_, err := p.Transcribe(context.Background(), segment(1))

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "openai", terr.Provider)
	assert.Contains(t, err.Error(), "status 401")
}

func TestConfidenceWithoutSegments(t *testing.T) {
	assert.Equal(t, 1.0, confidence(verboseResponse{Text: "hi"}))
}

type scripted struct {
	calls   int
	results []string
	failAt  int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Transcribe(_ context.Context, seg audio.AudioSegment) (Result, error) {
	s.calls++
	if s.calls == s.failAt {
		return Result{}, errors.New("connection reset")
	}
	return Result{Text: s.results[s.calls-1], Confidence: 0.5, Duration: seg.Duration}, nil
}

func TestChunkedJoinsResults(t *testing.T) {
	p := &scripted{results: []string{"one ", "two", "three"}}
	c := &Chunked{Provider: p, Max: time.Second}

	res, err := c.Transcribe(context.Background(), segment(3))
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, "one two three", res.Text)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestChunkedKeepsPartialText(t *testing.T) {
	p := &scripted{results: []string{"one", "two", "three"}, failAt: 3}
	c := &Chunked{Provider: p, Max: time.Second}

	_, err := c.Transcribe(context.Background(), segment(3))
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "one two", terr.Partial)
	assert.Contains(t, err.Error(), "chunk 3 of 3")
}

func TestChunkedShortAudioPassesThrough(t *testing.T) {
	p := &scripted{results: []string{"only"}}
	c := &Chunked{Provider: p, Max: time.Minute}

	res, err := c.Transcribe(context.Background(), segment(2))
	require.NoError(t, err)
	assert.Equal(t, "only", res.Text)
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default().Transcription
	_, err := NewProvider(cfg)
	assert.Error(t, err, "missing api key")

	cfg.OpenAIAPIKey = "sk-test"
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Chunked{}, p)
	assert.Equal(t, "openai", p.Name())

	cfg.ChunkSeconds = 0
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	cfg.Provider = "whisper"
	_, err = NewProvider(cfg)
	assert.Error(t, err)
}
