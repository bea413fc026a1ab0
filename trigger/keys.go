package trigger

import (
	"fmt"
	"strings"
)

// Modifiers is a bit set of generic (sideless) modifier classes.
type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModShift
	ModAlt
	ModMeta
	ModFn
)

var modifierOrder = []struct {
	mod  Modifiers
	name string
}{
	{ModCtrl, "ctrl"},
	{ModShift, "shift"},
	{ModAlt, "alt"},
	{ModMeta, "meta"},
	{ModFn, "fn"},
}

// keyAliases maps accepted spellings to canonical key names.
var keyAliases = invert(map[string][]string{
	"ctrl":     {"control", "ctl"},
	"alt":      {"option", "opt"},
	"meta":     {"win", "windows", "cmd", "command", "super", "commandorcontrol"},
	"lctrl":    {"leftctrl", "leftcontrol", "controlleft"},
	"rctrl":    {"rightctrl", "rightcontrol", "controlright"},
	"lshift":   {"leftshift", "shiftleft"},
	"rshift":   {"rightshift", "shiftright"},
	"lalt":     {"leftalt", "leftoption"},
	"ralt":     {"rightalt", "rightoption", "altgr"},
	"lmeta":    {"leftmeta", "leftcmd", "leftcommand", "lwin", "metaleft"},
	"rmeta":    {"rightmeta", "rightcmd", "rightcommand", "rwin", "metaright"},
	"fn":       {"function"},
	"enter":    {"return"},
	"esc":      {"escape"},
	"space":    {"spacebar"},
	"capslock": {"caps"},
})

// modifierKeys maps every modifier key name to its generic class.
var modifierKeys = map[string]Modifiers{
	"ctrl":   ModCtrl,
	"lctrl":  ModCtrl,
	"rctrl":  ModCtrl,
	"shift":  ModShift,
	"lshift": ModShift,
	"rshift": ModShift,
	"alt":    ModAlt,
	"lalt":   ModAlt,
	"ralt":   ModAlt,
	"meta":   ModMeta,
	"lmeta":  ModMeta,
	"rmeta":  ModMeta,
	"fn":     ModFn,
}

var namedKeys = set(
	"space", "enter", "esc", "tab", "backspace",
	"capslock", "delete", "insert", "home", "end",
	"pageup", "pagedown", "up", "down", "left", "right",
)

func invert(m map[string][]string) map[string]string {
	out := make(map[string]string)
	for canonical, aliases := range m {
		for _, alias := range aliases {
			out[alias] = canonical
		}
	}
	return out
}

func set(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// CanonicalKey normalizes a key name. The boolean is false for names
// that are not recognised.
func CanonicalKey(name string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(name))
	if k == "" {
		return "", false
	}
	if alias, ok := keyAliases[k]; ok {
		k = alias
	}
	if _, ok := modifierKeys[k]; ok || namedKeys[k] {
		return k, true
	}
	if len(k) == 1 && (k[0] >= 'a' && k[0] <= 'z' || k[0] >= '0' && k[0] <= '9') {
		return k, true
	}
	if len(k) >= 2 && k[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(k[1:], "%d", &n); err == nil && n >= 1 && n <= 24 && fmt.Sprintf("f%d", n) == k {
			return k, true
		}
	}
	return k, false
}

// modifierClass returns the generic modifier class of a key, or 0.
func modifierClass(key string) Modifiers {
	return modifierKeys[key]
}

// keyMatches reports whether a pressed key satisfies a binding key.
// A generic modifier ("ctrl") accepts either side; a sided one only itself.
func keyMatches(pressed, target string) bool {
	if pressed == target {
		return true
	}
	switch target {
	case "ctrl", "shift", "alt", "meta":
		return modifierClass(pressed) == modifierClass(target)
	}
	return false
}

// Binding is a parsed key descriptor: required modifiers plus one main key.
type Binding struct {
	Mods Modifiers
	Key  string
}

// ParseBinding parses descriptors such as "space", "ctrl+shift+v" or "ctrl+win".
// In a modifier-only combo the last modifier becomes the main key.
func ParseBinding(desc string) (Binding, error) {
	var b Binding
	parts := strings.Split(desc, "+")
	if strings.TrimSpace(desc) == "" {
		return b, fmt.Errorf("empty key descriptor")
	}
	for i, part := range parts {
		key, ok := CanonicalKey(part)
		if !ok {
			if key == "" {
				return b, fmt.Errorf("empty key in descriptor %q", desc)
			}
			return b, fmt.Errorf("unknown key %q in descriptor %q", key, desc)
		}
		if i == len(parts)-1 {
			b.Key = key
			break
		}
		class := modifierClass(key)
		if class == 0 {
			return b, fmt.Errorf("%q is not a modifier (only the last key may be a regular key)", key)
		}
		b.Mods |= class
	}
	// The main key's own class is never also a required modifier.
	b.Mods &^= modifierClass(b.Key)
	return b, nil
}

// String renders the canonical descriptor, also used as the binding identifier.
func (b Binding) String() string {
	var parts []string
	for _, m := range modifierOrder {
		if b.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, b.Key), "+")
}

// involves reports whether key is the main key or one of the required modifiers.
func (b Binding) involves(key string) bool {
	if keyMatches(key, b.Key) {
		return true
	}
	return b.Mods&modifierClass(key) != 0
}

// reservedBindings are system shortcuts that must never be captured globally.
var reservedBindings = set(
	"meta+space", "meta+tab", "meta+q", "meta+w",
	"meta+t", "meta+n", "meta+s", "meta+a",
	"meta+c", "meta+v", "meta+z", "meta+y",
	"ctrl+c", "ctrl+v", "ctrl+x", "ctrl+z",
	"alt+tab", "alt+f4", "ctrl+alt+delete",
)

// IsReserved reports whether a binding collides with a system shortcut.
func IsReserved(b Binding) bool {
	return reservedBindings[b.String()]
}
