package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBinding(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"space", "space"},
		{"Ctrl+Shift+V", "ctrl+shift+v"},
		{"shift+control+v", "ctrl+shift+v"},
		{"cmd+option+r", "alt+meta+r"},
		{"ctrl+win", "ctrl+meta"},
		{"RightOption", "ralt"},
		{"f9", "f9"},
		{"Escape", "esc"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			b, err := ParseBinding(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestParseBindingErrors(t *testing.T) {
	for _, desc := range []string{"", "ctrl+", "v+ctrl", "hyper+v", "f25", "f1x"} {
		t.Run(desc, func(t *testing.T) {
			_, err := ParseBinding(desc)
			assert.Error(t, err)
		})
	}
}

func TestKeyMatchesSides(t *testing.T) {
	assert.True(t, keyMatches("rctrl", "ctrl"))
	assert.True(t, keyMatches("lctrl", "ctrl"))
	assert.False(t, keyMatches("lalt", "ralt"))
	assert.True(t, keyMatches("ralt", "ralt"))
	assert.False(t, keyMatches("a", "b"))
}

func TestIsReserved(t *testing.T) {
	b, err := ParseBinding("cmd+space")
	require.NoError(t, err)
	assert.True(t, IsReserved(b))

	b, err = ParseBinding("ctrl+shift+space")
	require.NoError(t, err)
	assert.False(t, IsReserved(b))
}

func TestCanonicalKeyAliases(t *testing.T) {
	tests := map[string]string{
		"Control":      "ctrl",
		"super":        "meta",
		"AltGr":        "ralt",
		"ShiftLeft":    "lshift",
		"rightcommand": "rmeta",
		"Return":       "enter",
		"caps":         "capslock",
		"PageDown":     "pagedown",
	}
	for name, want := range tests {
		got, ok := CanonicalKey(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := CanonicalKey("printscreen")
	assert.False(t, ok)
}
