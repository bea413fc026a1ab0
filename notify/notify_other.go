//go:build !linux

package notify

import "log/slog"

type logNotifier struct{}

// New returns a notifier that writes to the log.
func New() (Notifier, error) {
	return logNotifier{}, nil
}

func (logNotifier) Notify(n Notification) error {
	slog.Warn(n.Summary, "detail", n.Body)
	return nil
}

func (logNotifier) Close() error { return nil }
