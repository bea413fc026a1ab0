package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/voicekey/config"
)

func TestCommandProcessor(t *testing.T) {
	proc := CommandProcessor(DefaultVoiceCommands())

	tests := []struct {
		in, want string
	}{
		{"hello comma world full stop", "hello, world."},
		{"Is it ready question mark", "Is it ready?"},
		{"first line new line second line", "first line\nsecond line"},
		{"one new paragraph two", "one\n\ntwo"},
		{"Comma at start", ", at start"},
		{"commander and colonel", "commander and colonel"},
		{"mail me at sign home", "mail me @ home"},
		{"", ""},
		{"grüße comma welt", "grüße, welt"},
	}
	for _, tt := range tests {
		got, err := proc(context.Background(), tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestReplaceWord(t *testing.T) {
	assert.Equal(t, "a X b X", replaceWord("a foo b FOO", "foo", "X"))
	assert.Equal(t, "foobar", replaceWord("foobar", "foo", "X"))
	assert.Equal(t, "éfoo", replaceWord("éfoo", "foo", "X"))
	assert.Equal(t, "X.", replaceWord("foo.", "foo", "X"))
}

func TestDictionaryLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.txt")
	content := "# comment\nKubernetes\n\ncube control -> kubectl\n -> nothing\npost gress->Postgres\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	dict, err := LoadDictionary(path)
	require.NoError(t, err)
	require.Len(t, dict.Entries, 3)
	assert.Equal(t, []string{"Kubernetes"}, dict.Terms())
	assert.Equal(t, DictionaryEntry{Original: "post gress", Replacement: "Postgres", IsMapping: true}, dict.Entries[2])

	out := filepath.Join(t.TempDir(), "nested", "dict.txt")
	require.NoError(t, SaveDictionary(out, dict))
	again, err := LoadDictionary(out)
	require.NoError(t, err)
	assert.Equal(t, dict, again)
}

func TestDictionaryMissingFile(t *testing.T) {
	dict, err := LoadDictionary(filepath.Join(t.TempDir(), "none.txt"))
	require.NoError(t, err)
	assert.Empty(t, dict.Entries)
}

func TestDictionaryProcessor(t *testing.T) {
	dict := &Dictionary{Entries: []DictionaryEntry{
		{Original: "cube control", Replacement: "kubectl", IsMapping: true},
		{Replacement: "Kubernetes"},
	}}
	got, err := DictionaryProcessor(dict)(context.Background(), "run Cube Control apply")
	require.NoError(t, err)
	assert.Equal(t, "run kubectl apply", got)
}

func TestPipelineStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipeline(
		func(_ context.Context, s string) (string, error) { return s + "a", nil },
		func(_ context.Context, s string) (string, error) { return "ignored", boom },
	)
	got, err := p.Process(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "xa", got)

	var nilPipe *Pipeline
	got, err = nilPipe.Process(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte("cube control -> kubectl\n"), 0o644))

	p, dict, err := FromConfig(config.PostprocessConfig{VoiceCommands: true, DictionaryPath: path})
	require.NoError(t, err)
	assert.Len(t, dict.Entries, 1)

	got, err := p.Process(context.Background(), "cube control get pods full stop")
	require.NoError(t, err)
	assert.Equal(t, "kubectl get pods.", got)
}
