package platform

import "strings"

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// EscapeAppleScript quotes text for use inside an AppleScript string literal.
func EscapeAppleScript(text string) string {
	return appleScriptEscaper.Replace(text)
}

var sendKeysEscaper = strings.NewReplacer(
	"+", "{+}",
	"^", "{^}",
	"%", "{%}",
	"~", "{~}",
	"(", "{(}",
	")", "{)}",
	"{", "{{}",
	"}", "{}}",
	"[", "{[}",
	"]", "{]}",
	"\r\n", "{ENTER}",
	"\n", "{ENTER}",
	"\t", "{TAB}",
)

// EscapeSendKeys quotes text for the Windows SendKeys syntax so every
// character is typed literally.
func EscapeSendKeys(text string) string {
	return sendKeysEscaper.Replace(text)
}

// quotePowerShell wraps s in a single-quoted PowerShell literal.
func quotePowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
