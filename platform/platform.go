// Package platform adapts the operating system's input, clipboard, focus and
// automation facilities behind small interfaces so the trigger, session and
// inject packages can be driven by fakes in tests.
package platform

import (
	"errors"
	"strings"
)

// ErrUnsupported is returned by adapters that have no implementation on the
// running platform or desktop session.
var ErrUnsupported = errors.New("not supported on this platform")

// AppHandle identifies the application holding input focus at a point in time.
type AppHandle struct {
	// ID is the platform identifier used to re-activate the target
	// (window handle, X11 window id, or macOS bundle id).
	ID string `json:"id"`
	// App is a human readable application name, used by the target filter.
	App   string `json:"app"`
	Title string `json:"title,omitempty"`
}

// IsZero reports whether the handle carries no target.
func (h AppHandle) IsZero() bool {
	return h.ID == "" && h.App == ""
}

// Matches reports whether the handle names app, comparing case-insensitively
// against both the application name and the identifier.
func (h AppHandle) Matches(app string) bool {
	return strings.EqualFold(h.App, app) || strings.EqualFold(h.ID, app)
}

// Focus provides focus introspection.
type Focus interface {
	Focused() (AppHandle, error)
	Activate(h AppHandle) error
}

// Clipboard provides text clipboard access.
type Clipboard interface {
	Get() (string, error)
	Set(text string) error
	// Clear empties the clipboard.
	Clear() error
}

// Paster simulates the platform paste shortcut into the focused application.
type Paster interface {
	Paste() error
}

// Typer synthesizes unicode character input into the focused application.
type Typer interface {
	Type(text string) error
}

// Scripter enters text through the OS automation interface.
type Scripter interface {
	Keystroke(text string) error
}
