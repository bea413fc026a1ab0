//go:build windows

package platform

import (
	"fmt"
	"time"
	"unicode/utf16"
	"unsafe"
)

var (
	sendInput      = user32.NewProc("SendInput")
	mapVirtualKeyW = user32.NewProc("MapVirtualKeyW")
)

const (
	inputKeyboard    = 1
	keyeventfKeyup   = 0x0002
	keyeventfUnicode = 0x0004
	mapvkVkToVsc     = 0
	vkControl        = 0x11
	vkV              = 0x56
)

type keyboardInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type input struct {
	inputType uint32
	ki        keyboardInput
	padding   [8]byte // union is sized for MOUSEINPUT
}

func send(inputs []input) error {
	if len(inputs) == 0 {
		return nil
	}
	n, _, err := sendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) != len(inputs) {
		return fmt.Errorf("SendInput delivered %d of %d events: %w", n, len(inputs), err)
	}
	return nil
}

type winPaster struct{}

// NewPaster returns a paster that sends Ctrl+V with scan codes, which
// elevated applications accept more reliably than bare virtual keys.
func NewPaster() Paster {
	return winPaster{}
}

func (winPaster) Paste() error {
	ctrlScan, _, _ := mapVirtualKeyW.Call(vkControl, mapvkVkToVsc)
	vScan, _, _ := mapVirtualKeyW.Call(vkV, mapvkVkToVsc)

	key := func(vk, scan uintptr, flags uint32) input {
		return input{inputType: inputKeyboard, ki: keyboardInput{wVk: uint16(vk), wScan: uint16(scan), dwFlags: flags}}
	}
	err := send([]input{
		key(vkControl, ctrlScan, 0),
		key(vkV, vScan, 0),
		key(vkV, vScan, keyeventfKeyup),
		key(vkControl, ctrlScan, keyeventfKeyup),
	})
	if err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

type winTyper struct{}

// NewTyper returns a typer that injects UTF-16 code units as
// KEYEVENTF_UNICODE keyboard input.
func NewTyper() Typer {
	return winTyper{}
}

func (winTyper) Type(text string) error {
	units := utf16.Encode([]rune(text))
	inputs := make([]input, 0, len(units)*2)
	for _, u := range units {
		inputs = append(inputs,
			input{inputType: inputKeyboard, ki: keyboardInput{wScan: u, dwFlags: keyeventfUnicode}},
			input{inputType: inputKeyboard, ki: keyboardInput{wScan: u, dwFlags: keyeventfUnicode | keyeventfKeyup}},
		)
	}
	return send(inputs)
}
