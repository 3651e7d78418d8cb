// Package events publishes subscription lifecycle events for downstream
// consumers (notification fan-out, analytics). Publishing is fire-and-forget:
// a sink failure never blocks or fails presence processing.
package events

import (
	"context"
	"log/slog"

	"mellium.im/xmpp/jid"
)

// Sink receives subscription lifecycle events.
type Sink interface {
	// Subscribed records that from's subscription to to's presence was
	// approved.
	Subscribed(ctx context.Context, from, to jid.JID)
	// Unsubscribed records that the subscription from from to to ended.
	Unsubscribed(ctx context.Context, from, to jid.JID)
}

// LogSink writes events to the structured log. It is the default sink when no
// broker is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a sink that logs each event.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Subscribed(_ context.Context, from, to jid.JID) {
	s.log.Info("subscription approved", "from", from.String(), "to", to.String())
}

func (s *LogSink) Unsubscribed(_ context.Context, from, to jid.JID) {
	s.log.Info("subscription ended", "from", from.String(), "to", to.String())
}
