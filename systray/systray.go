// Package systray shows session state in the system tray and offers the
// last undelivered dictation for copying.
package systray

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/getlantern/systray"

	"markestedt/voicekey/events"
	"markestedt/voicekey/platform"
	"markestedt/voicekey/storage"
)

// ErrNothingToRecover is returned by CopyLatest when every attempt has been
// delivered or recovered.
var ErrNothingToRecover = errors.New("no undelivered text")

// RecoveryStore lists and clears undelivered text.
type RecoveryStore interface {
	PendingRecovery(limit int) ([]storage.Attempt, error)
	MarkRecovered(id int64) error
}

// Manager manages the system tray icon and menu.
type Manager struct {
	webURL    string
	iconData  []byte
	recovery  RecoveryStore
	clipboard platform.Clipboard
	quit      chan struct{}

	mStatus  *systray.MenuItem
	mRecover *systray.MenuItem
	ready    chan struct{}
}

// NewManager creates a tray manager. webURL may be empty when the web API
// is disabled.
func NewManager(webURL string, iconData []byte, recovery RecoveryStore, clipboard platform.Clipboard) *Manager {
	return &Manager{
		webURL:    webURL,
		iconData:  iconData,
		recovery:  recovery,
		clipboard: clipboard,
		quit:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
}

// Run starts the system tray. It blocks and must be called from the main
// goroutine.
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// Stop stops the system tray.
func (m *Manager) Stop() {
	systray.Quit()
}

// WaitForQuit returns a channel that is closed when the user clicks Quit.
func (m *Manager) WaitForQuit() <-chan struct{} {
	return m.quit
}

func (m *Manager) onReady() {
	if len(m.iconData) > 0 {
		systray.SetIcon(m.iconData)
	}
	systray.SetTitle("VoiceKey")
	systray.SetTooltip(Tooltip("idle"))

	m.mStatus = systray.AddMenuItem(StatusLabel("idle"), "Current dictation state")
	m.mStatus.Disable()
	systray.AddSeparator()
	m.mRecover = systray.AddMenuItem("Copy last undelivered text", "Put the most recent undelivered dictation on the clipboard")
	m.refreshRecovery()
	mOpenWebUI := systray.AddMenuItem("Open Web UI", "Open the VoiceKey control page")
	if m.webURL == "" {
		mOpenWebUI.Disable()
	}
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Exit VoiceKey")
	close(m.ready)

	go func() {
		for {
			select {
			case <-m.mRecover.ClickedCh:
				if err := m.CopyLatest(); err != nil {
					slog.Warn("Failed to copy undelivered text", "error", err)
				}
				m.refreshRecovery()
			case <-mOpenWebUI.ClickedCh:
				m.openWebUI()
			case <-mQuit.ClickedCh:
				slog.Info("User requested quit from system tray")
				close(m.quit)
				systray.Quit()
				return
			}
		}
	}()
}

func (m *Manager) onExit() {
	slog.Info("System tray exited")
}

// Follow updates the tray from lifecycle events until ctx is done.
func (m *Manager) Follow(ctx context.Context, ch <-chan events.Event) {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case events.SessionState:
				systray.SetTooltip(Tooltip(ev.State))
				m.mStatus.SetTitle(StatusLabel(ev.State))
			case events.InjectionFailed, events.ActivationError, events.InjectionOutcome:
				m.refreshRecovery()
			}
		}
	}
}

// CopyLatest puts the most recent undelivered text on the clipboard and
// removes it from the recovery list.
func (m *Manager) CopyLatest() error {
	pending, err := m.recovery.PendingRecovery(1)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return ErrNothingToRecover
	}
	a := pending[0]
	if err := m.clipboard.Set(a.Text); err != nil {
		return fmt.Errorf("failed to set clipboard: %w", err)
	}
	if err := m.recovery.MarkRecovered(a.ID); err != nil {
		return err
	}
	slog.Info("Copied undelivered text to clipboard", "id", a.ID, "session", a.SessionID)
	return nil
}

func (m *Manager) refreshRecovery() {
	pending, err := m.recovery.PendingRecovery(1)
	if err != nil {
		slog.Warn("Failed to read recovery list", "error", err)
		return
	}
	if len(pending) == 0 {
		m.mRecover.Disable()
	} else {
		m.mRecover.Enable()
	}
}

// StatusLabel is the menu text for a session state.
func StatusLabel(state string) string {
	switch state {
	case "capturing":
		return "● Listening"
	case "transcribing":
		return "… Transcribing"
	default:
		return "Ready"
	}
}

// Tooltip is the tray tooltip for a session state.
func Tooltip(state string) string {
	return "VoiceKey - " + StatusLabel(state)
}

func (m *Manager) openWebUI() {
	slog.Info("Opening web UI", "url", m.webURL)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", m.webURL)
	case "darwin":
		cmd = exec.Command("open", m.webURL)
	case "linux":
		cmd = exec.Command("xdg-open", m.webURL)
	default:
		slog.Error("Unsupported platform for opening browser", "platform", runtime.GOOS)
		return
	}

	if err := cmd.Start(); err != nil {
		slog.Error("Failed to open web UI", "error", err)
	}
}
