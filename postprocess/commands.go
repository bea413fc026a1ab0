package postprocess

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// VoiceCommand maps a spoken phrase to the text it stands for.
type VoiceCommand struct {
	Phrase      string
	Replacement string
}

// DefaultVoiceCommands returns the standard set of voice commands. Longer
// phrases sharing a prefix come first.
func DefaultVoiceCommands() []VoiceCommand {
	return []VoiceCommand{
		{"new paragraph", "\n\n"},
		{"new line", "\n"},
		{"newline", "\n"},
		{"full stop", "."},
		{"comma", ","},
		{"question mark", "?"},
		{"exclamation mark", "!"},
		{"exclamation point", "!"},
		{"semicolon", ";"},
		{"colon", ":"},
		{"open quote", "\""},
		{"close quote", "\""},
		{"open parenthesis", "("},
		{"close parenthesis", ")"},
		{"open bracket", "["},
		{"close bracket", "]"},
		{"open brace", "{"},
		{"close brace", "}"},
		{"underscore", "_"},
		{"backslash", "\\"},
		{"at sign", "@"},
		{"hash sign", "#"},
		{"dollar sign", "$"},
		{"percent sign", "%"},
		{"ampersand", "&"},
		{"asterisk", "*"},
	}
}

// CommandProcessor replaces whole-word voice commands, ignoring case, and
// then removes the spaces speech leaves around punctuation.
func CommandProcessor(commands []VoiceCommand) Processor {
	return func(ctx context.Context, text string) (string, error) {
		result := text
		for _, cmd := range commands {
			result = replaceWord(result, cmd.Phrase, cmd.Replacement)
		}
		return tidyPunctuation(result), nil
	}
}

// replaceWord replaces every case-insensitive occurrence of phrase that is
// delimited by non-word characters or the ends of text.
func replaceWord(text, phrase, replacement string) string {
	if phrase == "" || len(text) < len(phrase) {
		return text
	}

	var out strings.Builder
	last := 0
	for i := 0; i+len(phrase) <= len(text); {
		end := i + len(phrase)
		if strings.EqualFold(text[i:end], phrase) && boundaryBefore(text, i) && boundaryAfter(text, end) {
			out.WriteString(text[last:i])
			out.WriteString(replacement)
			last = end
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	if last == 0 {
		return text
	}
	out.WriteString(text[last:])
	return out.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

var (
	spaceBeforePunct = regexp.MustCompile(` +([.,?!:;)\]}])`)
	spaceAroundBreak = regexp.MustCompile(` *\n *`)
)

// tidyPunctuation drops spaces before closing punctuation and around line
// breaks.
func tidyPunctuation(text string) string {
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	return spaceAroundBreak.ReplaceAllString(text, "\n")
}
