//go:build windows

package platform

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	getWindowTextW      = user32.NewProc("GetWindowTextW")
	setForegroundWindow = user32.NewProc("SetForegroundWindow")
	isWindow            = user32.NewProc("IsWindow")
)

type winFocus struct{}

// NewFocus returns foreground-window introspection.
func NewFocus() Focus {
	return winFocus{}
}

func (winFocus) Focused() (AppHandle, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return AppHandle{}, fmt.Errorf("no foreground window")
	}
	h := AppHandle{ID: strconv.FormatUint(uint64(hwnd), 16)}

	buf := make([]uint16, 256)
	n, _, _ := getWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	h.Title = windows.UTF16ToString(buf[:n])

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return h, fmt.Errorf("failed to resolve window process: %w", err)
	}
	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return h, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	name := make([]uint16, windows.MAX_PATH)
	size := uint32(len(name))
	if err := windows.QueryFullProcessImageName(proc, 0, &name[0], &size); err != nil {
		return h, fmt.Errorf("failed to query process image: %w", err)
	}
	h.App = strings.TrimSuffix(filepath.Base(windows.UTF16ToString(name[:size])), ".exe")
	return h, nil
}

func (winFocus) Activate(h AppHandle) error {
	hwnd, err := strconv.ParseUint(h.ID, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid window handle %q: %w", h.ID, err)
	}
	if r, _, _ := isWindow.Call(uintptr(hwnd)); r == 0 {
		return fmt.Errorf("window %s no longer exists", h.ID)
	}
	if r, _, err := setForegroundWindow.Call(uintptr(hwnd)); r == 0 {
		return fmt.Errorf("SetForegroundWindow failed: %w", err)
	}
	return nil
}

type winScripter struct{}

// NewScripter returns a scripter driving SendKeys through PowerShell.
func NewScripter() Scripter {
	return winScripter{}
}

func (winScripter) Keystroke(text string) error {
	script := "Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.SendKeys]::SendWait(" +
		quotePowerShell(EscapeSendKeys(text)) + ")"
	cmd := exec.Command("powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("SendKeys failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
