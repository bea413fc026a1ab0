package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the event kind to form the NATS subject.
const SubjectPrefix = "voicekey.events."

// Subject returns the NATS subject an event kind is published on.
func Subject(k Kind) string {
	return SubjectPrefix + string(k)
}

// NATSForwarder republishes lifecycle events on a NATS server so other
// processes can follow dictation activity.
type NATSForwarder struct {
	conn *nats.Conn
}

// ConnectNATS dials the server at url.
func ConnectNATS(url string, timeout time.Duration) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.Name("voicekey"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS", "url", url)
	return &NATSForwarder{conn: conn}, nil
}

// Publish sends one event.
func (f *NATSForwarder) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := f.conn.Publish(Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run forwards events until ctx is done or the channel is closed.
func (f *NATSForwarder) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := f.Publish(ev); err != nil {
				slog.Warn("Failed to forward event", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// Healthy reports whether the connection is up.
func (f *NATSForwarder) Healthy() bool {
	return f != nil && f.conn != nil && f.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (f *NATSForwarder) Close() {
	if f == nil {
		return
	}
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
	}
}
