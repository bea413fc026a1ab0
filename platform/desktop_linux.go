//go:build linux

package platform

import (
	"fmt"
	"os"
	"strings"
)

func wayland() bool {
	return os.Getenv("WAYLAND_DISPLAY") != ""
}

type linuxClipboard struct{}

// NewClipboard returns a clipboard backed by wl-clipboard, xclip or xsel.
func NewClipboard() Clipboard {
	return linuxClipboard{}
}

func (linuxClipboard) Get() (string, error) {
	if wayland() {
		out, err := run("", "wl-paste", "--no-newline")
		if err != nil && strings.Contains(err.Error(), "No selection") {
			return "", nil
		}
		return out, err
	}
	out, err := firstAvailable("",
		[]string{"xclip", "-selection", "clipboard", "-o"},
		[]string{"xsel", "--clipboard", "--output"},
	)
	if err != nil && strings.Contains(err.Error(), "not available") {
		// xclip reports an empty clipboard as a missing target
		return "", nil
	}
	return out, err
}

func (c linuxClipboard) Set(text string) error {
	if text == "" {
		return c.Clear()
	}
	var err error
	if wayland() {
		_, err = run(text, "wl-copy")
	} else {
		_, err = firstAvailable(text,
			[]string{"xclip", "-selection", "clipboard", "-i"},
			[]string{"xsel", "--clipboard", "--input"},
		)
	}
	return err
}

func (linuxClipboard) Clear() error {
	var err error
	if wayland() {
		_, err = run("", "wl-copy", "--clear")
	} else {
		_, err = firstAvailable("",
			[]string{"xsel", "--clipboard", "--clear"},
			[]string{"xclip", "-selection", "clipboard", "-i", "/dev/null"},
		)
	}
	return err
}

type xdotool struct{}

// NewPaster returns a paster sending ctrl+v through xdotool (X11) or
// wtype (Wayland).
func NewPaster() Paster {
	return xdotool{}
}

// NewTyper returns a unicode typer using xdotool (X11) or wtype (Wayland).
func NewTyper() Typer {
	return xdotool{}
}

// NewFocus returns active-window introspection through xdotool. Wayland
// compositors do not expose the focused window, so it reports ErrUnsupported there.
func NewFocus() Focus {
	return xdotool{}
}

func (xdotool) Paste() error {
	if wayland() {
		_, err := run("", "wtype", "-M", "ctrl", "v", "-m", "ctrl")
		return err
	}
	_, err := run("", "xdotool", "key", "--clearmodifiers", "ctrl+v")
	return err
}

func (xdotool) Type(text string) error {
	if wayland() {
		_, err := run("", "wtype", "--", text)
		return err
	}
	_, err := run("", "xdotool", "type", "--clearmodifiers", "--delay", "0", "--", text)
	return err
}

func (xdotool) Focused() (AppHandle, error) {
	if wayland() {
		return AppHandle{}, ErrUnsupported
	}
	id, err := run("", "xdotool", "getactivewindow")
	if err != nil {
		return AppHandle{}, err
	}
	h := AppHandle{ID: strings.TrimSpace(id)}
	if title, err := run("", "xdotool", "getwindowname", h.ID); err == nil {
		h.Title = strings.TrimSpace(title)
	}
	pid, err := run("", "xdotool", "getwindowpid", h.ID)
	if err != nil {
		return h, fmt.Errorf("failed to resolve window process: %w", err)
	}
	comm, err := os.ReadFile("/proc/" + strings.TrimSpace(pid) + "/comm")
	if err != nil {
		return h, fmt.Errorf("failed to read process name: %w", err)
	}
	h.App = strings.TrimSpace(string(comm))
	return h, nil
}

func (xdotool) Activate(h AppHandle) error {
	if h.ID == "" {
		return fmt.Errorf("empty window id")
	}
	if wayland() {
		return ErrUnsupported
	}
	_, err := run("", "xdotool", "windowactivate", "--sync", h.ID)
	return err
}

type ydotool struct{}

// NewScripter returns a scripter driving the uinput-based ydotool daemon,
// which works under both X11 and Wayland.
func NewScripter() Scripter {
	return ydotool{}
}

func (ydotool) Keystroke(text string) error {
	_, err := run("", "ydotool", "type", "--", text)
	return err
}
