package storage

import (
	"context"
	"log/slog"

	"markestedt/voicekey/events"
	"markestedt/voicekey/inject"
)

// Record saves every terminal outcome read from ch until ch closes or ctx is
// done. Transcription failures that produced partial text are stored as
// failed attempts so the text stays recoverable.
func (db *DB) Record(ctx context.Context, ch <-chan events.Event) {
	confidence := make(map[string]float64)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}

			var a *Attempt
			switch ev.Kind {
			case events.ActivationResult:
				confidence[ev.SessionID] = ev.Confidence
				continue
			case events.InjectionOutcome:
				if ev.Injection == nil {
					continue
				}
				a = AttemptFromOutcome(ev.SessionID, ev.At, *ev.Injection)
				a.Confidence = confidence[ev.SessionID]
			case events.ActivationError:
				if ev.Text == "" {
					continue
				}
				a = &Attempt{
					SessionID:   ev.SessionID,
					Timestamp:   ev.At,
					Text:        ev.Text,
					Status:      inject.Failed,
					Reason:      ev.Reason,
					Recoverable: true,
				}
				if ev.Target != nil {
					a.Target = *ev.Target
				}
			default:
				continue
			}
			delete(confidence, ev.SessionID)

			if err := db.SaveAttempt(a); err != nil {
				slog.Error("Failed to record attempt", "session", ev.SessionID, "error", err)
				continue
			}
			slog.Debug("Attempt recorded", "id", a.ID, "status", a.Status, "session", ev.SessionID)
		}
	}
}
