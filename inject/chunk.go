package inject

import (
	"unicode/utf16"

	"github.com/rivo/uniseg"
)

// DefaultChunkSize is the largest chunk, in UTF-16 code units, handed to a
// single synthetic text event.
const DefaultChunkSize = 20

// Chunks splits text into pieces of at most limit UTF-16 code units. Grapheme
// clusters are never split; a cluster longer than limit forms its own chunk.
func Chunks(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkSize
	}
	var chunks []string
	start, size := 0, 0
	state := -1
	rest := text
	pos := 0
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		n := utf16Len(cluster)
		if size > 0 && size+n > limit {
			chunks = append(chunks, text[start:pos])
			start, size = pos, 0
		}
		pos += len(cluster)
		size += n
	}
	if pos > start {
		chunks = append(chunks, text[start:pos])
	}
	return chunks
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
