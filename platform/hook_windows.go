//go:build windows

package platform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"markestedt/voicekey/trigger"
)

var (
	setWindowsHookEx    = user32.NewProc("SetWindowsHookExW")
	callNextHookEx      = user32.NewProc("CallNextHookEx")
	unhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	getMessageW         = user32.NewProc("GetMessageW")
	postThreadMessageW  = user32.NewProc("PostThreadMessageW")
)

const (
	whKeyboardLL = 13
	wmKeydown    = 0x0100
	wmSyskeydown = 0x0104
	wmQuit       = 0x0012
)

type kbdllhookstruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

// winHook is a WH_KEYBOARD_LL hook running its own message loop on a locked
// OS thread.
type winHook struct {
	mu       sync.Mutex
	events   chan trigger.KeyEvent
	threadID uint32
	done     chan struct{}
}

// NewHook returns the low-level keyboard hook.
func NewHook() trigger.HookSource {
	return &winHook{}
}

func (h *winHook) Install(ctx context.Context) (<-chan trigger.KeyEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return nil, fmt.Errorf("keyboard hook already running")
	}

	h.events = make(chan trigger.KeyEvent, 64)
	h.done = make(chan struct{})
	errCh := make(chan error, 1)
	go h.run(errCh)

	select {
	case err := <-errCh:
		if err != nil {
			h.done = nil
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return h.events, nil
}

func (h *winHook) Uninstall() error {
	h.mu.Lock()
	done, tid := h.done, h.threadID
	h.done = nil
	h.mu.Unlock()
	if done == nil {
		return nil
	}
	if r, _, err := postThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0); r == 0 {
		return fmt.Errorf("failed to stop hook thread: %w", err)
	}
	<-done
	return nil
}

func (h *winHook) run(errCh chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	done := h.done
	defer close(done)

	proc := func(nCode int32, wParam uintptr, lParam uintptr) uintptr {
		if nCode >= 0 {
			kb := (*kbdllhookstruct)(unsafe.Pointer(lParam))
			h.dispatch(wParam, kb)
		}
		r, _, _ := callNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
		return r
	}
	hook, _, err := setWindowsHookEx.Call(whKeyboardLL, windows.NewCallback(proc), 0, 0)
	if hook == 0 {
		errCh <- fmt.Errorf("SetWindowsHookEx failed: %w", err)
		return
	}
	defer unhookWindowsHookEx.Call(hook)

	h.mu.Lock()
	h.threadID = windows.GetCurrentThreadId()
	h.mu.Unlock()
	errCh <- nil

	var m msg
	for {
		r, _, _ := getMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r) <= 0 {
			close(h.events)
			return
		}
	}
}

// dispatch must return quickly; Windows silently removes hooks that stall.
func (h *winHook) dispatch(wParam uintptr, kb *kbdllhookstruct) {
	name, ok := vkNames[kb.vkCode]
	if !ok {
		return
	}
	ev := trigger.KeyEvent{
		Key:  name,
		Down: wParam == wmKeydown || wParam == wmSyskeydown,
		At:   time.Now(),
	}
	select {
	case h.events <- ev:
	default:
		slog.Warn("Dropping key event, consumer is behind", "key", name)
	}
}

// vkNames maps virtual-key codes to canonical trigger key names. The
// low-level hook reports sided modifier codes.
var vkNames = func() map[uint32]string {
	m := map[uint32]string{
		0x08: "backspace", 0x09: "tab", 0x0D: "enter", 0x14: "capslock", 0x1B: "esc",
		0x20: "space", 0x21: "pageup", 0x22: "pagedown", 0x23: "end", 0x24: "home",
		0x25: "left", 0x26: "up", 0x27: "right", 0x28: "down", 0x2D: "insert", 0x2E: "delete",
		0x10: "shift", 0x11: "ctrl", 0x12: "alt",
		0xA0: "lshift", 0xA1: "rshift", 0xA2: "lctrl", 0xA3: "rctrl", 0xA4: "lalt", 0xA5: "ralt",
		0x5B: "lmeta", 0x5C: "rmeta",
	}
	for c := 'a'; c <= 'z'; c++ {
		m[uint32(0x41+c-'a')] = string(c)
	}
	for c := '0'; c <= '9'; c++ {
		m[uint32(0x30+c-'0')] = string(c)
	}
	for i := 1; i <= 24; i++ {
		m[uint32(0x6F+i)] = fmt.Sprintf("f%d", i)
	}
	return m
}()
