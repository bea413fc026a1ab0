package systray

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"markestedt/voicekey/storage"
)

type fakeRecovery struct {
	pending   []storage.Attempt
	recovered []int64
}

func (f *fakeRecovery) PendingRecovery(limit int) ([]storage.Attempt, error) {
	return f.pending[:min(limit, len(f.pending))], nil
}

func (f *fakeRecovery) MarkRecovered(id int64) error {
	f.recovered = append(f.recovered, id)
	return nil
}

type fakeClipboard struct {
	text string
	err  error
}

func (c *fakeClipboard) Get() (string, error) { return c.text, nil }
func (c *fakeClipboard) Set(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}
func (c *fakeClipboard) Clear() error { c.text = ""; return nil }

func TestCopyLatest(t *testing.T) {
	rec := &fakeRecovery{pending: []storage.Attempt{
		{ID: 7, Text: "newest"},
		{ID: 3, Text: "older"},
	}}
	clip := &fakeClipboard{}
	m := NewManager("", nil, rec, clip)

	require.NoError(t, m.CopyLatest())
	assert.Equal(t, "newest", clip.text)
	assert.Equal(t, []int64{7}, rec.recovered)
}

func TestCopyLatestNothingPending(t *testing.T) {
	m := NewManager("", nil, &fakeRecovery{}, &fakeClipboard{})
	assert.ErrorIs(t, m.CopyLatest(), ErrNothingToRecover)
}

func TestCopyLatestKeepsEntryWhenClipboardFails(t *testing.T) {
	rec := &fakeRecovery{pending: []storage.Attempt{{ID: 1, Text: "x"}}}
	m := NewManager("", nil, rec, &fakeClipboard{err: errors.New("locked")})

	assert.Error(t, m.CopyLatest())
	assert.Empty(t, rec.recovered)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Ready", StatusLabel("idle"))
	assert.Equal(t, "● Listening", StatusLabel("capturing"))
	assert.Equal(t, "VoiceKey - … Transcribing", Tooltip("transcribing"))
}
