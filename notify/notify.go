// Package notify raises desktop notifications for dictations that did not
// reach their target.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rivo/uniseg"

	"markestedt/voicekey/events"
)

// Urgency levels from the freedesktop notification spec.
const (
	UrgencyLow byte = iota
	UrgencyNormal
	UrgencyCritical
)

const previewLength = 80

type Notification struct {
	Summary string
	Body    string
	Urgency byte
}

// Notifier displays notifications.
type Notifier interface {
	Notify(n Notification) error
	Close() error
}

// Format builds the notification for ev. It reports false for events the
// user does not need to hear about.
func Format(ev events.Event) (Notification, bool) {
	switch ev.Kind {
	case events.InjectionFailed:
		body := ev.Reason
		if ev.Text != "" {
			body += "\n“" + preview(ev.Text) + "”\nCopy it from the recovery list."
		}
		return Notification{Summary: "Dictation not delivered", Body: body, Urgency: UrgencyCritical}, true
	case events.ActivationError:
		body := ev.Reason
		if ev.Text != "" {
			body += "\nPartial text saved: “" + preview(ev.Text) + "”"
		}
		return Notification{Summary: "Dictation failed", Body: body, Urgency: UrgencyNormal}, true
	default:
		return Notification{}, false
	}
}

// preview shortens text to previewLength grapheme clusters.
func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if uniseg.GraphemeClusterCount(text) <= previewLength {
		return text
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(text)
	for n := 0; n < previewLength && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimRight(b.String(), " ") + "…"
}

// Run shows a notification for each relevant event from ch until ctx is
// done or ch closes.
func Run(ctx context.Context, n Notifier, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			note, show := Format(ev)
			if !show {
				continue
			}
			if err := n.Notify(note); err != nil {
				slog.Warn("Failed to show notification", "kind", ev.Kind, "error", err)
			}
		}
	}
}
