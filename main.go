package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"markestedt/voicekey/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: user config dir)")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	store, err := config.NewFileStore(*configPath)
	if err != nil {
		slog.Error("Failed to locate config", "error", err)
		os.Exit(1)
	}
	cfg, err := store.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err, "path", store.Path())
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Log.Level))
	slog.Info("Configuration loaded", "path", store.Path())

	if cfg.Transcription.Provider == "openai" && cfg.Transcription.OpenAIAPIKey == "" {
		slog.Error("OpenAI API key is required. Please set 'openai_api_key' in config file", "path", store.Path())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, store, level); err != nil {
		slog.Error("VoiceKey error", "error", err)
		os.Exit(1)
	}
	slog.Info("VoiceKey stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, store *config.FileStore, level *slog.LevelVar) error {
	app, err := NewApp(ctx, cfg, store, level)
	if err != nil {
		return err
	}
	defer app.Close()

	tray := app.Tray()
	if tray == nil {
		return app.Run(ctx)
	}

	// The tray owns the main goroutine.
	done := make(chan error, 1)
	go func() {
		err := app.Run(ctx)
		cancel()
		tray.Stop()
		done <- err
	}()
	go func() {
		select {
		case <-ctx.Done():
			tray.Stop()
		case <-tray.WaitForQuit():
			cancel()
		}
	}()
	tray.Run()
	cancel()
	return <-done
}
