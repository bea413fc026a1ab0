//go:build darwin

package platform

import (
	"context"
	"fmt"
	"strings"

	"markestedt/voicekey/trigger"
)

func osascript(script string) (string, error) {
	out, err := run("", "osascript", "-e", script)
	return strings.TrimSpace(out), err
}

type macClipboard struct{}

// NewClipboard returns the general pasteboard via pbcopy/pbpaste.
func NewClipboard() Clipboard {
	return macClipboard{}
}

func (macClipboard) Get() (string, error) {
	return run("", "pbpaste")
}

func (c macClipboard) Set(text string) error {
	if text == "" {
		return c.Clear()
	}
	_, err := run(text, "pbcopy")
	return err
}

func (macClipboard) Clear() error {
	_, err := osascript(`tell application "System Events" to set the clipboard to ""`)
	return err
}

type systemEvents struct{}

// NewPaster returns a paster sending cmd+v through System Events.
func NewPaster() Paster {
	return systemEvents{}
}

// NewScripter returns a scripter typing through AppleScript keystrokes.
func NewScripter() Scripter {
	return systemEvents{}
}

// NewFocus returns frontmost-application introspection keyed by bundle id.
func NewFocus() Focus {
	return systemEvents{}
}

// NewTyper reports ErrUnsupported: synthesizing unicode key events needs
// Quartz event services, which are not reachable without cgo.
func NewTyper() Typer {
	return unsupportedTyper{}
}

type unsupportedTyper struct{}

func (unsupportedTyper) Type(string) error { return ErrUnsupported }

func (systemEvents) Paste() error {
	_, err := osascript(`tell application "System Events" to keystroke "v" using command down`)
	return err
}

func (systemEvents) Keystroke(text string) error {
	_, err := osascript(fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, EscapeAppleScript(text)))
	return err
}

func (systemEvents) Focused() (AppHandle, error) {
	out, err := osascript(`tell application "System Events"
	set p to first application process whose frontmost is true
	return (bundle identifier of p) & "\n" & (name of p)
end tell`)
	if err != nil {
		return AppHandle{}, err
	}
	id, name, _ := strings.Cut(out, "\n")
	return AppHandle{ID: id, App: name}, nil
}

func (systemEvents) Activate(h AppHandle) error {
	if h.ID == "" {
		return fmt.Errorf("empty bundle id")
	}
	_, err := osascript(fmt.Sprintf(`tell application id "%s" to activate`, EscapeAppleScript(h.ID)))
	return err
}

type macHook struct{}

// NewHook returns a hook that cannot be installed: a global event tap needs
// cgo and the accessibility permission.
func NewHook() trigger.HookSource {
	return macHook{}
}

func (macHook) Install(context.Context) (<-chan trigger.KeyEvent, error) {
	return nil, fmt.Errorf("global event tap: %w", ErrUnsupported)
}

func (macHook) Uninstall() error { return nil }
