// Package notification surfaces short, non-blocking messages to the user.
package notification

import (
	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
)

const maxBodyLen = 200

// Notifier shows a transient message.
type Notifier interface {
	Notify(title, body string)
}

// Func adapts a function to Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) { f(title, body) }

// Log writes notifications to the log only.
type Log struct {
	log *zerolog.Logger
}

// NewLog returns a Notifier for headless runs.
func NewLog() *Log {
	return &Log{log: logutil.WithComponent("notify")}
}

func (l *Log) Notify(title, body string) {
	l.log.Info().Str("title", title).Str("body", Truncate(body)).Msg("notification")
}

// Truncate shortens body for display.
func Truncate(body string) string {
	r := []rune(body)
	if len(r) <= maxBodyLen {
		return body
	}
	return string(r[:maxBodyLen]) + "..."
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, body)
		}
	}
}
