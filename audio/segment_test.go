package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestCalculateRMS(t *testing.T) {
	seg := AudioSegment{Data: pcm(3000, -3000, 3000, -3000)}
	assert.InDelta(t, 3000, seg.CalculateRMS(), 0.001)

	assert.Zero(t, (&AudioSegment{}).CalculateRMS())
}

func TestToWAVHeader(t *testing.T) {
	seg := AudioSegment{Data: pcm(1, 2, 3), SampleRate: 16000, Channels: 1}
	wav, err := seg.ToWAV()
	require.NoError(t, err)

	require.Len(t, wav, 44+6)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+6), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, seg.Data, wav[44:])
}

func TestSplit(t *testing.T) {
	// 2.5 seconds at 4 Hz mono
	seg := AudioSegment{Data: pcm(make([]int16, 10)...), SampleRate: 4, Channels: 1, Duration: 2500 * time.Millisecond}

	parts := seg.Split(time.Second)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0].Data, 8)
	assert.Len(t, parts[2].Data, 4)
	assert.Equal(t, time.Second, parts[0].Duration)
	assert.Equal(t, 500*time.Millisecond, parts[2].Duration)

	assert.Len(t, seg.Split(0), 1)
	assert.Len(t, seg.Split(time.Minute), 1)
}
