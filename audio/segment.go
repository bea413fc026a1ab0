package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// AudioSegment is a captured stretch of 16-bit little-endian PCM.
type AudioSegment struct {
	Data       []byte
	SampleRate uint32
	Channels   uint32
	Duration   time.Duration
}

const bytesPerSample = 2

// CalculateRMS returns the root mean square sample amplitude. Silence sits
// below about 500, normal speech between 2000 and 5000.
func (seg *AudioSegment) CalculateRMS() float64 {
	n := len(seg.Data) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(seg.Data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Split cuts the segment into pieces no longer than max. The last piece
// holds the remainder.
func (seg *AudioSegment) Split(max time.Duration) []AudioSegment {
	frame := int(seg.Channels) * bytesPerSample
	if max <= 0 || frame == 0 || seg.SampleRate == 0 {
		return []AudioSegment{*seg}
	}
	step := int(max.Seconds()*float64(seg.SampleRate)) * frame
	if step <= 0 || len(seg.Data) <= step {
		return []AudioSegment{*seg}
	}

	var parts []AudioSegment
	for off := 0; off < len(seg.Data); off += step {
		end := min(off+step, len(seg.Data))
		data := seg.Data[off:end]
		parts = append(parts, AudioSegment{
			Data:       data,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
			Duration:   time.Duration(len(data)/frame) * time.Second / time.Duration(seg.SampleRate),
		})
	}
	return parts
}

// ToWAV wraps the samples in a RIFF/WAVE container.
func (seg *AudioSegment) ToWAV() ([]byte, error) {
	buf := new(bytes.Buffer)

	dataSize := uint32(len(seg.Data))
	bitsPerSample := uint16(16)
	blockAlign := uint16(seg.Channels * uint32(bitsPerSample) / 8)
	byteRate := seg.SampleRate * uint32(blockAlign)

	var err error
	put := func(tag string, fields ...any) {
		buf.WriteString(tag)
		for _, f := range fields {
			if err == nil {
				err = binary.Write(buf, binary.LittleEndian, f)
			}
		}
	}
	put("RIFF", 36+dataSize)
	put("WAVE")
	put("fmt ", uint32(16), uint16(1), uint16(seg.Channels), seg.SampleRate, byteRate, blockAlign, bitsPerSample)
	put("data", dataSize)
	if err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(seg.Data)
	return buf.Bytes(), nil
}
