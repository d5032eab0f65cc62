package gui

import (
	"fyne.io/fyne/v2"

	"screen-capture-stage/src/notification"
)

// Notifier shows notifications through the desktop's notification service.
type Notifier struct {
	app fyne.App
}

// NewNotifier returns a notification.Notifier backed by app.
func NewNotifier(app fyne.App) *Notifier {
	return &Notifier{app: app}
}

func (n *Notifier) Notify(title, body string) {
	n.app.SendNotification(fyne.NewNotification(title, notification.Truncate(body)))
}
