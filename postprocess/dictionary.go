package postprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"markestedt/voicekey/config"
)

// DictionaryEntry is either a plain term or a correction mapping.
type DictionaryEntry struct {
	Original    string // empty for plain terms
	Replacement string
	IsMapping   bool
}

// Dictionary holds user vocabulary. Plain terms bias transcription; mappings
// correct words the recogniser keeps getting wrong.
type Dictionary struct {
	Entries []DictionaryEntry
}

func dictionaryPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dictionary.txt"), nil
}

// LoadDictionary reads a dictionary file. A missing file yields an empty
// dictionary.
func LoadDictionary(path string) (*Dictionary, error) {
	path, err := dictionaryPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Dictionary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer file.Close()

	var entries []DictionaryEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if from, to, ok := strings.Cut(line, "->"); ok {
			from, to = strings.TrimSpace(from), strings.TrimSpace(to)
			if from != "" {
				entries = append(entries, DictionaryEntry{Original: from, Replacement: to, IsMapping: true})
			}
			continue
		}
		entries = append(entries, DictionaryEntry{Replacement: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}

	return &Dictionary{Entries: entries}, nil
}

// SaveDictionary writes terms first and mappings second.
func SaveDictionary(path string, dict *Dictionary) error {
	path, err := dictionaryPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# VoiceKey dictionary\n# Terms (bias transcription):\n")
	for _, term := range dict.Terms() {
		b.WriteString(term + "\n")
	}
	b.WriteString("\n# Corrections (misheard -> correct):\n")
	for _, e := range dict.Entries {
		if e.IsMapping {
			b.WriteString(e.Original + " -> " + e.Replacement + "\n")
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	return nil
}

// Terms returns the plain terms, for use in a transcription prompt.
func (d *Dictionary) Terms() []string {
	var terms []string
	for _, e := range d.Entries {
		if !e.IsMapping {
			terms = append(terms, e.Replacement)
		}
	}
	return terms
}

// DictionaryProcessor applies the correction mappings as whole-word,
// case-insensitive replacements.
func DictionaryProcessor(dict *Dictionary) Processor {
	return func(ctx context.Context, text string) (string, error) {
		if dict == nil {
			return text, nil
		}
		result := text
		for _, e := range dict.Entries {
			if e.IsMapping {
				result = replaceWord(result, e.Original, e.Replacement)
			}
		}
		return result, nil
	}
}
