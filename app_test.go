package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"markestedt/voicekey/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestSessionOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Device = "USB Microphone"
	cfg.Session.MaxCaptureSeconds = 90

	opts := sessionOptions(cfg)
	assert.Equal(t, "USB Microphone", opts.DeviceID)
	assert.Equal(t, 90*time.Second, opts.MaxCapture)
	assert.Equal(t, 50*time.Millisecond, opts.FocusSettle)
	assert.Equal(t, 100*time.Millisecond, opts.MinRecording)
}

func TestHookForVoiceTrigger(t *testing.T) {
	voice := config.TriggerConfig{Mode: "voice", Phrases: []string{"start dictation"}}
	assert.Nil(t, hookFor(voice))
	assert.False(t, needsKeyboard(voice))

	voice.CancelKey = "esc"
	assert.NotNil(t, hookFor(voice))

	assert.NotNil(t, hookFor(config.TriggerConfig{Mode: "single", Key: "f9"}))
	assert.True(t, needsKeyboard(config.TriggerConfig{Mode: "sequence", Keys: []string{"r", "r"}}))
}
