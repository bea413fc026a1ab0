package trigger

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive is returned when reconfiguration is attempted while
	// a capture session is in progress.
	ErrSessionActive = errors.New("cannot reconfigure trigger while a session is active")

	// ErrHookInstalled is returned when the global input hook is already held.
	ErrHookInstalled = errors.New("global input hook already installed")
)

// ConfigError reports a structurally invalid trigger specification.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid trigger %s: %s", e.Field, e.Reason)
}

// HookInstallError wraps a platform failure to install the input hook
// (missing permission, conflicting hook). It is fatal and never retried.
type HookInstallError struct {
	Err error
}

func (e *HookInstallError) Error() string {
	return fmt.Sprintf("failed to install input hook: %v", e.Err)
}

func (e *HookInstallError) Unwrap() error {
	return e.Err
}
