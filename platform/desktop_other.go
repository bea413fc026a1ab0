//go:build !windows && !linux && !darwin

package platform

import (
	"context"

	"markestedt/voicekey/trigger"
)

type unsupported struct{}

func NewClipboard() Clipboard     { return unsupported{} }
func NewPaster() Paster           { return unsupported{} }
func NewTyper() Typer             { return unsupported{} }
func NewScripter() Scripter       { return unsupported{} }
func NewFocus() Focus             { return unsupported{} }
func NewHook() trigger.HookSource { return unsupported{} }

func (unsupported) Get() (string, error)        { return "", ErrUnsupported }
func (unsupported) Set(string) error            { return ErrUnsupported }
func (unsupported) Clear() error                { return ErrUnsupported }
func (unsupported) Paste() error                { return ErrUnsupported }
func (unsupported) Type(string) error           { return ErrUnsupported }
func (unsupported) Keystroke(string) error      { return ErrUnsupported }
func (unsupported) Focused() (AppHandle, error) { return AppHandle{}, ErrUnsupported }
func (unsupported) Activate(AppHandle) error    { return ErrUnsupported }
func (unsupported) Uninstall() error            { return nil }

func (unsupported) Install(context.Context) (<-chan trigger.KeyEvent, error) {
	return nil, ErrUnsupported
}
