package trigger

import (
	"context"
	"sync"
	"sync/atomic"
)

// HookSource installs the OS-level keyboard hook.
type HookSource interface {
	Install(ctx context.Context) (<-chan KeyEvent, error)
	Uninstall() error
}

// hookHeld guards the process-wide input hook.
var hookHeld atomic.Bool

// HookLease is exclusive ownership of the global input hook.
type HookLease struct {
	src    HookSource
	events <-chan KeyEvent
	once   sync.Once
	err    error
}

// Events returns the raw key stream.
func (l *HookLease) Events() <-chan KeyEvent {
	return l.events
}

// Release uninstalls the hook. Calling it more than once is harmless.
func (l *HookLease) Release() error {
	l.once.Do(func() {
		l.err = l.src.Uninstall()
		hookHeld.Store(false)
	})
	return l.err
}

// AttachHook installs src as the process-wide input hook and hands the
// lease to the detector. A second attach while one is held fails with
// ErrHookInstalled; platform failures come back as *HookInstallError.
func (d *Detector) AttachHook(ctx context.Context, src HookSource) (<-chan KeyEvent, error) {
	if !hookHeld.CompareAndSwap(false, true) {
		return nil, ErrHookInstalled
	}
	events, err := src.Install(ctx)
	if err != nil {
		hookHeld.Store(false)
		return nil, &HookInstallError{Err: err}
	}
	d.hook = &HookLease{src: src, events: events}
	return events, nil
}
