package router

import (
	"context"
	"log/slog"

	"mellium.im/xmpp/jid"

	"courier/internal/stanza"
)

// Bouncer turns undeliverable stanzas into the protocol-standard replies:
// messages and solicited IQs bounce back to their sender as errors, while
// presence is dropped. Error-typed stanzas never bounce, so two servers can
// not ping-pong failures at each other.
type Bouncer struct {
	deliverer Deliverer
	log       *slog.Logger
}

// NewBouncer builds a failure notifier that replies through the given
// deliverer.
func NewBouncer(deliverer Deliverer, log *slog.Logger) *Bouncer {
	if log == nil {
		log = slog.Default()
	}
	return &Bouncer{deliverer: deliverer, log: log}
}

func (b *Bouncer) IQFailed(ctx context.Context, to jid.JID, iq *stanza.IQ) {
	if iq.Type == stanza.IQResult || iq.Type == stanza.IQError || !iq.HasFrom() {
		return
	}
	reply := &stanza.IQ{Header: stanza.Header{StanzaID: iq.ID()}, Type: stanza.IQError, Payload: iq.Payload}
	b.bounce(ctx, reply, to, iq.From())
}

func (b *Bouncer) MessageFailed(ctx context.Context, to jid.JID, msg *stanza.Message) {
	if msg.Type == stanza.MessageError || !msg.HasFrom() {
		return
	}
	reply := &stanza.Message{Header: stanza.Header{StanzaID: msg.ID()}, Type: stanza.MessageError, Body: msg.Body, Payload: msg.Payload}
	b.bounce(ctx, reply, to, msg.From())
}

func (b *Bouncer) PresenceFailed(_ context.Context, to jid.JID, p *stanza.Presence) {
	b.log.Debug("presence dropped", "to", to.String(), "type", string(p.Type))
}

func (b *Bouncer) bounce(ctx context.Context, reply stanza.Stanza, from, to jid.JID) {
	reply.SetFrom(from)
	reply.SetTo(to)
	if err := b.deliverer.Deliver(ctx, reply); err != nil {
		b.log.Warn("error reply delivery failed", "to", to.String(), "error", err)
	}
}
