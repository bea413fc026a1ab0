//go:build linux

package platform

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"markestedt/voicekey/trigger"
)

const (
	evKey = 1

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// evdevHook reads key events straight from /dev/input. It needs the user to
// be in the input group (or root) and works under X11 and Wayland alike.
type evdevHook struct {
	mu     sync.Mutex
	files  []*os.File
	wg     sync.WaitGroup
	events chan trigger.KeyEvent
	done   chan struct{}
}

// NewHook returns the evdev keyboard hook.
func NewHook() trigger.HookSource {
	return &evdevHook{}
}

func (h *evdevHook) Install(ctx context.Context) (<-chan trigger.KeyEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.files != nil {
		return nil, fmt.Errorf("keyboard hook already running")
	}

	devices, err := keyboardDevices("/proc/bus/input/devices")
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.New("no keyboard devices found")
	}

	var files []*os.File
	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			slog.Debug("Skipping input device", "device", dev, "error", err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("cannot read keyboard devices (need to be in the 'input' group or run as root)")
	}

	h.files = files
	h.events = make(chan trigger.KeyEvent, 64)
	h.done = make(chan struct{})
	for _, f := range files {
		h.wg.Add(1)
		go h.read(f, h.done)
	}
	go func() {
		h.wg.Wait()
		close(h.events)
	}()
	go func() {
		<-ctx.Done()
		h.Uninstall()
	}()

	slog.Info("Keyboard hook installed", "devices", len(files))
	return h.events, nil
}

func (h *evdevHook) Uninstall() error {
	h.mu.Lock()
	files := h.files
	h.files = nil
	if h.done != nil {
		close(h.done)
		h.done = nil
	}
	h.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// input_event on 64-bit: struct timeval (16 bytes), type, code, value.
const inputEventSize = 24

func (h *evdevHook) read(f *os.File, done <-chan struct{}) {
	defer h.wg.Done()
	buf := make([]byte, inputEventSize)
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			if !errors.Is(err, os.ErrClosed) {
				slog.Warn("Input device read failed", "device", f.Name(), "error", err)
			}
			return
		}
		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))
		if typ != evKey {
			continue
		}
		name, ok := evdevNames[code]
		if !ok {
			continue
		}
		var down bool
		switch value {
		case keyPress, keyRepeat:
			down = true
		case keyRelease:
		default:
			continue
		}
		if !deliverKey(h.events, done, trigger.KeyEvent{Key: name, Down: down, At: time.Now()}) {
			return
		}
	}
}

// deliverKey hands ev to the consumer. Presses are dropped when the consumer
// is behind; releases wait for it so no key is left held down. It returns
// false once done is closed.
func deliverKey(events chan<- trigger.KeyEvent, done <-chan struct{}, ev trigger.KeyEvent) bool {
	if ev.Down {
		select {
		case events <- ev:
		default:
			slog.Warn("Dropping key event, consumer is behind", "key", ev.Key)
		}
		return true
	}
	select {
	case events <- ev:
		return true
	case <-done:
		return false
	}
}

// keyboardDevices parses /proc/bus/input/devices for handlers with key
// capabilities wide enough to be a keyboard.
func keyboardDevices(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	devices := parseInputDevices(f)

	matches, _ := filepath.Glob("/dev/input/by-id/*-event-kbd")
	for _, m := range matches {
		if real, err := filepath.EvalSymlinks(m); err == nil && !contains(devices, real) {
			devices = append(devices, real)
		}
	}
	return devices, nil
}

func parseInputDevices(r io.Reader) []string {
	var devices []string
	var handler string
	keyboard := false

	scanner := bufio.NewScanner(r)
	flush := func() {
		if keyboard && handler != "" {
			devices = append(devices, handler)
		}
		handler, keyboard = "", false
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
				if part == "kbd" {
					keyboard = true
				}
			}
		case strings.HasPrefix(line, "B: EV="):
			// EV_REP (bit 20) marks devices with auto-repeat, i.e. keyboards
			// rather than power buttons that also carry the kbd handler.
			var ev uint64
			fmt.Sscanf(strings.TrimPrefix(line, "B: EV="), "%x", &ev)
			if ev&(1<<20) == 0 {
				keyboard = false
			}
		case line == "":
			flush()
		}
	}
	flush()
	return devices
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// evdevNames maps linux/input-event-codes.h key codes to trigger key names.
var evdevNames = func() map[uint16]string {
	m := map[uint16]string{
		1:   "esc",
		14:  "backspace",
		15:  "tab",
		28:  "enter",
		57:  "space",
		58:  "capslock",
		29:  "lctrl",
		97:  "rctrl",
		42:  "lshift",
		54:  "rshift",
		56:  "lalt",
		100: "ralt",
		125: "lmeta",
		126: "rmeta",
		464: "fn",
		102: "home",
		103: "up",
		104: "pageup",
		105: "left",
		106: "right",
		107: "end",
		108: "down",
		109: "pagedown",
		110: "insert",
		111: "delete",
		11:  "0",
		87:  "f11",
		88:  "f12",
	}
	for i, c := range "123456789" {
		m[uint16(2+i)] = string(c)
	}
	rows := []struct {
		start uint16
		keys  string
	}{
		{16, "qwertyuiop"},
		{30, "asdfghjkl"},
		{44, "zxcvbnm"},
	}
	for _, row := range rows {
		for i, c := range row.keys {
			m[row.start+uint16(i)] = string(c)
		}
	}
	for i := 0; i < 10; i++ {
		m[uint16(59+i)] = fmt.Sprintf("f%d", i+1)
	}
	for i := 0; i < 12; i++ {
		m[uint16(183+i)] = fmt.Sprintf("f%d", i+13)
	}
	return m
}()
