package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"markestedt/voicekey/agent"
	"markestedt/voicekey/audio"
	"markestedt/voicekey/config"
	"markestedt/voicekey/events"
	"markestedt/voicekey/inject"
	"markestedt/voicekey/notify"
	"markestedt/voicekey/platform"
	"markestedt/voicekey/postprocess"
	"markestedt/voicekey/session"
	"markestedt/voicekey/storage"
	"markestedt/voicekey/systray"
	"markestedt/voicekey/telemetry"
	"markestedt/voicekey/transcribe"
	"markestedt/voicekey/trigger"
	"markestedt/voicekey/web"
)

const subscriberBuffer = 64

// App owns every long-lived component and connects them through the event
// bus.
type App struct {
	cfg   *config.Config
	store *config.FileStore
	level *slog.LevelVar

	bus       *events.Bus
	db        *storage.DB
	recorder  *audio.Recorder
	injector  *inject.Pipeline
	agent     *agent.Agent
	telemetry *telemetry.Telemetry
	forwarder *events.NATSForwarder
	notifier  notify.Notifier
	web       *web.Server
	tray      *systray.Manager

	mu       sync.Mutex
	trigger  *config.TriggerConfig
	keyboard bool
}

// NewApp builds the components described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, store *config.FileStore, level *slog.LevelVar) (*App, error) {
	a := &App{cfg: cfg, store: store, level: level, bus: events.NewBus()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(dir, "voicekey.db")
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	a.recorder, err = audio.NewRecorder(cfg.Audio.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	processor, dict, err := postprocess.FromConfig(cfg.Postprocess)
	if err != nil {
		return nil, err
	}
	tcfg := cfg.Transcription
	if terms := dict.Terms(); len(terms) > 0 {
		tcfg.Prompt = strings.TrimSpace(tcfg.Prompt + " Vocabulary: " + strings.Join(terms, ", ") + ".")
	}
	provider, err := transcribe.NewProvider(tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription provider: %w", err)
	}

	clipboard := platform.NewClipboard()
	a.injector = inject.New(platform.NewTyper(), clipboard, platform.NewPaster(), platform.NewScripter(), cfg.Injection.Pipeline())

	a.agent = agent.New(ctx, session.Deps{
		Focus:       platform.NewFocus(),
		Capture:     a.recorder,
		Transcriber: provider,
		Processor:   processor,
		Injector:    a.injector,
	}, sessionOptions(cfg), a.bus)

	a.telemetry, err = telemetry.Setup(ctx, version)
	if err != nil {
		return nil, err
	}

	if cfg.Bus.NATSURL != "" {
		a.forwarder, err = events.ConnectNATS(cfg.Bus.NATSURL, cfg.Bus.ConnectTimeout())
		if err != nil {
			// Forwarding is optional; dictation works without it.
			slog.Warn("Event forwarding disabled", "url", cfg.Bus.NATSURL, "error", err)
		}
	}

	a.notifier, err = notify.New()
	if err != nil {
		slog.Warn("Desktop notifications disabled", "error", err)
	}

	webURL := ""
	if cfg.Web.Enabled {
		a.web = web.NewServer(web.Options{
			Addr:       cfg.Web.Addr,
			Controller: a.agent,
			DB:         db,
			Store:      store,
			Config:     cfg,
			Apply:      a.apply,
			Metrics:    a.telemetry.Handler(),
		})
		webURL = "http://" + cfg.Web.Addr
	}
	if cfg.Tray.Enabled {
		a.tray = systray.NewManager(webURL, nil, db, clipboard)
	}

	slog.Info("VoiceKey initialized", "provider", provider.Name(), "database", dbPath)
	ok = true
	return a, nil
}

// Tray returns the tray manager, or nil when the tray is disabled.
func (a *App) Tray() *systray.Manager {
	return a.tray
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		DeviceID:     cfg.Audio.Device,
		MaxCapture:   cfg.Session.MaxCapture(),
		FocusSettle:  cfg.Session.FocusSettle(),
		MinRecording: cfg.Session.MinRecording(),
	}
}

// needsKeyboard reports whether t listens to keys. A voice trigger without a
// cancel key runs on speech alone.
func needsKeyboard(t config.TriggerConfig) bool {
	return t.Mode != "voice" || t.CancelKey != ""
}

// hookFor returns the keyboard hook for t, or nil when t needs none.
func hookFor(t config.TriggerConfig) trigger.HookSource {
	if !needsKeyboard(t) {
		return nil
	}
	return platform.NewHook()
}

// subscribe starts fn on its own subscription to the bus.
func (a *App) subscribe(ctx context.Context, fn func(context.Context, <-chan events.Event)) {
	ch, unsubscribe := a.bus.Subscribe(subscriberBuffer)
	go func() {
		defer unsubscribe()
		fn(ctx, ch)
	}()
}

// Run starts every component and blocks until ctx is done or the agent
// fails to install the input hook.
func (a *App) Run(ctx context.Context) error {
	a.subscribe(ctx, a.db.Record)
	a.subscribe(ctx, a.telemetry.Metrics.Run)
	if a.forwarder != nil {
		a.subscribe(ctx, a.forwarder.Run)
	}
	if a.notifier != nil {
		a.subscribe(ctx, func(ctx context.Context, ch <-chan events.Event) { notify.Run(ctx, a.notifier, ch) })
	}
	if a.tray != nil {
		a.subscribe(ctx, a.tray.Follow)
	}
	if a.web != nil {
		a.subscribe(ctx, a.web.Run)
		go func() {
			if err := a.web.ListenAndServe(ctx); err != nil {
				slog.Error("Web server error", "error", err)
			}
		}()
	}

	hook := hookFor(a.cfg.Trigger)
	a.mu.Lock()
	a.keyboard = hook != nil
	a.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- a.agent.Run(ctx, hook) }()

	if err := a.apply(a.cfg); err != nil {
		slog.Error("Trigger not registered", "error", err)
	}

	err := a.store.Watch(ctx, func(cfg *config.Config) error {
		if err := a.apply(cfg); err != nil {
			return err
		}
		if a.web != nil {
			a.web.UpdateConfig(cfg)
		}
		return nil
	})
	if err != nil {
		slog.Warn("Config hot reload disabled", "error", err)
	}

	slog.Info("VoiceKey started", "trigger", a.cfg.Trigger.Mode, "web", a.cfg.Web.Enabled)
	if err := <-errc; err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

// apply activates the runtime parts of cfg: the trigger, the injection
// settings, the session limits and the log level. Transcription and storage
// settings take effect on restart.
func (a *App) apply(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Saving from the web API triggers a reload of the same trigger.
	if a.trigger == nil || !reflect.DeepEqual(*a.trigger, cfg.Trigger) {
		spec, mode, err := cfg.Trigger.Spec()
		if err != nil {
			return err
		}
		if !a.keyboard && needsKeyboard(cfg.Trigger) {
			slog.Warn("Keyboard hook not installed, restart to use this trigger", "mode", cfg.Trigger.Mode)
		}
		if err := a.agent.RegisterTrigger(ctx, spec, mode); err != nil {
			if errors.Is(err, agent.ErrStopped) {
				return nil
			}
			return err
		}
		t := cfg.Trigger
		a.trigger = &t
	}
	a.injector.SetConfig(cfg.Injection.Pipeline())
	a.agent.SetSessionOptions(sessionOptions(cfg))
	if a.level != nil {
		a.level.Set(parseLevel(cfg.Log.Level))
	}
	slog.Info("Configuration applied", "trigger", cfg.Trigger.Mode, "activation", cfg.Trigger.ActivationMode)
	return nil
}

// Close releases resources held outside the event loop.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	if a.notifier != nil {
		_ = a.notifier.Close()
	}
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	a.bus.Close()
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
