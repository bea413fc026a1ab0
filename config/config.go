// Package config loads and stores the TOML settings file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Trigger       TriggerConfig       `toml:"trigger" json:"trigger"`
	Injection     InjectionConfig     `toml:"injection" json:"injection"`
	Session       SessionConfig       `toml:"session" json:"session"`
	Audio         AudioConfig         `toml:"audio" json:"audio"`
	Transcription TranscriptionConfig `toml:"transcription" json:"transcription"`
	Postprocess   PostprocessConfig   `toml:"postprocess" json:"postprocess"`
	Web           WebConfig           `toml:"web" json:"web"`
	Tray          TrayConfig          `toml:"tray" json:"tray"`
	Storage       StorageConfig       `toml:"storage" json:"storage"`
	Bus           BusConfig           `toml:"bus" json:"bus"`
	Log           LogConfig           `toml:"log" json:"log"`
}

// TriggerConfig is the persisted activation trigger. Only the fields of the
// selected mode are used.
type TriggerConfig struct {
	Mode                string   `toml:"mode" json:"mode" validate:"oneof=single double hold sequence voice"`
	Key                 string   `toml:"key" json:"key" validate:"required_unless=Mode sequence Mode voice"`
	Keys                []string `toml:"keys" json:"keys" validate:"required_if=Mode sequence,omitempty,min=2"`
	TimeoutMs           int      `toml:"timeout_ms" json:"timeout_ms" validate:"gte=0,lte=10000"`
	HoldDurationMs      int      `toml:"hold_duration_ms" json:"hold_duration_ms" validate:"gte=0,lte=10000"`
	Phrases             []string `toml:"phrases" json:"phrases" validate:"required_if=Mode voice,dive,required"`
	Locale              string   `toml:"locale" json:"locale"`
	CancelKey           string   `toml:"cancel_key" json:"cancel_key"`
	ActivationMode      string   `toml:"activation_mode" json:"activation_mode" validate:"omitempty,oneof=direct toggle hold-or-toggle"`
	ClassifyThresholdMs int      `toml:"classify_threshold_ms" json:"classify_threshold_ms" validate:"gte=0,lte=5000"`
}

type InjectionConfig struct {
	AutoInjectEnabled     bool     `toml:"auto_inject_enabled" json:"auto_inject_enabled"`
	InjectDelayMs         int      `toml:"inject_delay_ms" json:"inject_delay_ms" validate:"gte=0,lte=5000"`
	UseKeyboardSimulation bool     `toml:"use_keyboard_simulation" json:"use_keyboard_simulation"`
	PreserveClipboard     bool     `toml:"preserve_clipboard" json:"preserve_clipboard"`
	DuplicateDetection    bool     `toml:"duplicate_detection" json:"duplicate_detection"`
	DuplicateWindowMs     int      `toml:"duplicate_window_ms" json:"duplicate_window_ms" validate:"gte=0"`
	TargetAppFilter       []string `toml:"target_app_filter" json:"target_app_filter" validate:"dive,required"`
	ChunkSize             int      `toml:"chunk_size" json:"chunk_size" validate:"min=1,max=256"`
	ClipboardSettleMs     int      `toml:"clipboard_settle_ms" json:"clipboard_settle_ms" validate:"gte=0,lte=5000"`
	RetryAttempts         int      `toml:"retry_attempts" json:"retry_attempts" validate:"min=1,max=10"`
	RetryIntervalMs       int      `toml:"retry_interval_ms" json:"retry_interval_ms" validate:"gte=0,lte=10000"`
}

type SessionConfig struct {
	MaxCaptureSeconds int `toml:"max_capture_seconds" json:"max_capture_seconds" validate:"min=1,max=3600"`
	FocusSettleMs     int `toml:"focus_settle_ms" json:"focus_settle_ms" validate:"gte=0,lte=2000"`
	MinRecordingMs    int `toml:"min_recording_ms" json:"min_recording_ms" validate:"gte=0"`
}

type AudioConfig struct {
	Device string `toml:"device" json:"device"`
}

type TranscriptionConfig struct {
	Provider       string `toml:"provider" json:"provider" validate:"oneof=openai"`
	Model          string `toml:"model" json:"model"`
	Language       string `toml:"language" json:"language"`
	Prompt         string `toml:"prompt" json:"prompt"`
	OpenAIAPIKey   string `toml:"openai_api_key" json:"-"`
	BaseURL        string `toml:"base_url" json:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds" validate:"min=1"`
	ChunkSeconds   int    `toml:"chunk_seconds" json:"chunk_seconds" validate:"gte=0"`
}

type PostprocessConfig struct {
	VoiceCommands  bool   `toml:"voice_commands" json:"voice_commands"`
	DictionaryPath string `toml:"dictionary_path" json:"dictionary_path"`
}

type WebConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Addr    string `toml:"addr" json:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

type TrayConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// StorageConfig locates the attempt history database. An empty path uses
// voicekey.db in Dir().
type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

type BusConfig struct {
	NATSURL          string `toml:"nats_url" json:"nats_url" validate:"omitempty,url"`
	ConnectTimeoutMs int    `toml:"connect_timeout_ms" json:"connect_timeout_ms" validate:"gte=0"`
}

type LogConfig struct {
	Level string `toml:"level" json:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Trigger: TriggerConfig{
			Mode:                "single",
			Key:                 "ctrl+shift+space",
			TimeoutMs:           400,
			HoldDurationMs:      500,
			Locale:              "en",
			CancelKey:           "esc",
			ActivationMode:      "hold-or-toggle",
			ClassifyThresholdMs: 300,
		},
		Injection: InjectionConfig{
			AutoInjectEnabled:     true,
			InjectDelayMs:         100,
			UseKeyboardSimulation: false,
			PreserveClipboard:     true,
			DuplicateDetection:    true,
			DuplicateWindowMs:     2000,
			ChunkSize:             20,
			ClipboardSettleMs:     300,
			RetryAttempts:         3,
			RetryIntervalMs:       200,
		},
		Session: SessionConfig{
			MaxCaptureSeconds: 300,
			FocusSettleMs:     50,
			MinRecordingMs:    100,
		},
		Transcription: TranscriptionConfig{
			Provider:       "openai",
			Model:          "whisper-1",
			Language:       "en",
			TimeoutSeconds: 60,
			ChunkSeconds:   120,
		},
		Postprocess: PostprocessConfig{
			VoiceCommands: true,
		},
		Web: WebConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7723",
		},
		Tray: TrayConfig{
			Enabled: true,
		},
		Bus: BusConfig{
			ConnectTimeoutMs: 2000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, "voicekey"), nil
}

// FileStore persists the configuration as a TOML file.
type FileStore struct {
	path string
}

// NewFileStore returns a store for path, or for config.toml in Dir() when
// path is empty.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.toml")
	}
	return &FileStore{path: path}, nil
}

// Path returns the file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the configuration, creating the file with defaults if it does
// not exist. Missing keys keep their default values.
func (s *FileStore) Load() (*Config, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := s.Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	cfg := Default()
	md, err := toml.DecodeFile(s.path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically.
func (s *FileStore) Save(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
