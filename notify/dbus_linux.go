package notify

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
	appName      = "voicekey"
	expireMs     = int32(8000)
)

type dbusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// New connects to the session bus notification service.
func New() (Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	slog.Debug("Connected to notification service")
	return &dbusNotifier{conn: conn, obj: conn.Object(notifyDest, notifyPath)}, nil
}

func (d *dbusNotifier) Notify(n Notification) error {
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(n.Urgency)}
	call := d.obj.Call(notifyMethod, 0,
		appName, uint32(0), "", n.Summary, n.Body, []string{}, hints, expireMs)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}
	return nil
}

func (d *dbusNotifier) Close() error {
	return d.conn.Close()
}
