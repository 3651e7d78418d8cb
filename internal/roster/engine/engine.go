// Package engine processes presence subscription stanzas: it advances both
// peers' roster state through the subscription state machine, decides whether
// the stanza is forwarded to the recipient, and triggers the follow-up
// traffic (presence probes, unavailable fan-out) a status change implies.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"mellium.im/xmpp/jid"

	"courier/internal/events"
	"courier/internal/platform/metrics"
	"courier/internal/roster/models"
	"courier/internal/roster/store"
	"courier/internal/stanza"
	"courier/pkg/platform/keymutex"
	"courier/pkg/platform/sentinel"
)

// Router is the slice of the routing table the engine needs: stanza delivery
// and session enumeration for a bare address.
type Router interface {
	RoutePacket(ctx context.Context, st stanza.Stanza, fromServer bool) error
	Routes(ctx context.Context, bare jid.JID) []jid.JID
}

// Deliverer is the best-effort send used when a recipient has no routable
// session or lives outside routing (offline storage, federation edge).
type Deliverer interface {
	Deliver(ctx context.Context, st stanza.Stanza) error
}

// Prober delivers target's current presence state to prober, as if prober had
// sent a presence probe.
type Prober interface {
	ProbePresence(ctx context.Context, prober, target jid.JID)
}

// Engine applies subscription stanzas to roster state and routes them.
type Engine struct {
	domain    string
	store     store.Store
	router    Router
	deliverer Deliverer
	prober    Prober
	sink      events.Sink
	locks     *keymutex.KeyMutex
	log       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithSink sets the lifecycle event sink. The default logs events.
func WithSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New builds a subscription engine for the given served domain.
func New(domain string, st store.Store, router Router, deliverer Deliverer, prober Prober, opts ...Option) *Engine {
	e := &Engine{
		domain:    domain,
		store:     st,
		router:    router,
		deliverer: deliverer,
		prober:    prober,
		locks:     keymutex.New(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = events.NewLogSink(e.log)
	}
	return e
}

// Process handles one subscription presence stanza. Both sides' roster state
// advances under per-owner locks before any forwarding, so a crash between
// the two writes can lose a forward but never leave a half-applied
// transition visible to either roster.
func (e *Engine) Process(ctx context.Context, p *stanza.Presence) error {
	if !p.Subscription() {
		return nil
	}
	if !p.HasFrom() || !p.HasTo() {
		return errors.New("engine: subscription presence requires from and to")
	}
	metrics.SubscriptionTransition(string(p.Type))

	from := p.From().Bare()
	to := p.To().Bare()

	// Addressed to the server itself. Granting presence to the server is
	// meaningless, so a subscribe gets an immediate refusal; everything else
	// is silently dropped.
	if to.Localpart() == "" && to.Domainpart() == e.domain {
		if p.Type == stanza.PresenceSubscribe {
			refusal := &stanza.Presence{Type: stanza.PresenceUnsubscribed}
			refusal.SetFrom(to)
			refusal.SetTo(from)
			return e.deliverer.Deliver(ctx, refusal)
		}
		return nil
	}

	if e.isLocal(from) {
		if _, _, err := e.manageSub(ctx, from, to, dirSend, p.Type); err != nil {
			return err
		}
	}

	var (
		targetItem *models.Item
		subChanged bool
	)
	targetLocal := e.isLocal(to)
	if targetLocal {
		var err error
		targetItem, subChanged, err = e.manageSub(ctx, to, from, dirRecv, p.Type)
		if err != nil {
			return err
		}
	}

	forwarded := false
	if e.shouldForward(p.Type, targetLocal, targetItem, subChanged) {
		if err := e.forward(ctx, p, from, to); err != nil {
			return err
		}
		forwarded = true
	}

	switch p.Type {
	case stanza.PresenceSubscribed:
		// A forwarded approval means the recipient just gained access: it
		// learns the sender's presence without waiting for the next broadcast.
		// A suppressed approval changed nothing and triggers nothing.
		if forwarded {
			if e.prober != nil {
				e.prober.ProbePresence(ctx, to, from)
			}
			e.sink.Subscribed(ctx, to, from)
		}
	case stanza.PresenceUnsubscribed:
		e.fanOutUnavailable(ctx, from, to)
		e.sink.Unsubscribed(ctx, to, from)
	}
	return nil
}

func (e *Engine) isLocal(bare jid.JID) bool {
	return bare.Localpart() != "" && bare.Domainpart() == e.domain
}

// shouldForward suppresses deliveries the recipient's roster state makes
// redundant: an approval that changed nothing, and a subscribe from a peer
// who already holds a subscription.
func (e *Engine) shouldForward(typ stanza.PresenceType, targetLocal bool, item *models.Item, subChanged bool) bool {
	if !targetLocal {
		return true
	}
	switch typ {
	case stanza.PresenceSubscribed:
		return subChanged
	case stanza.PresenceSubscribe:
		if item != nil && (item.Sub == models.SubFrom || item.Sub == models.SubBoth) {
			return false
		}
	}
	return true
}

// forward delivers the stanza to every session of the recipient, re-stamped
// with the sender's bare address so resource identity never leaks through
// subscription traffic. A recipient with no sessions gets the best-effort
// path instead.
func (e *Engine) forward(ctx context.Context, p *stanza.Presence, from, to jid.JID) error {
	fulls := e.router.Routes(ctx, to)
	if len(fulls) == 0 {
		cp := p.Clone()
		cp.SetFrom(from)
		cp.SetTo(to)
		return e.deliverer.Deliver(ctx, cp)
	}
	for _, full := range fulls {
		cp := p.Clone()
		cp.SetFrom(from)
		cp.SetTo(full)
		if err := e.router.RoutePacket(ctx, cp, true); err != nil {
			return err
		}
	}
	return nil
}

// fanOutUnavailable tells the revoked subscriber that every one of the
// revoker's sessions is now unavailable, since it will receive no further
// presence from them.
func (e *Engine) fanOutUnavailable(ctx context.Context, from, to jid.JID) {
	for _, full := range e.router.Routes(ctx, from) {
		p := &stanza.Presence{Type: stanza.PresenceUnavailable}
		p.SetFrom(full)
		p.SetTo(to)
		if err := e.deliverer.Deliver(ctx, p); err != nil {
			e.log.Warn("unavailable fan-out failed", "from", full.String(), "to", to.String(), "error", err)
		}
	}
}

// manageSub advances one owner's roster item for the peer. It returns the
// item after the transition and whether the subscription status changed.
func (e *Engine) manageSub(ctx context.Context, owner, peer jid.JID, dir direction, typ stanza.PresenceType) (*models.Item, bool, error) {
	username := owner.Localpart()
	e.locks.Lock(username)
	defer e.locks.Unlock(username)

	peerAddr := peer.String()
	item, err := e.store.FetchItem(ctx, username, peerAddr)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		// Only an inbound or outbound subscribe introduces a relationship;
		// the other types act on state that must already exist.
		if typ != stanza.PresenceSubscribe {
			return nil, false, nil
		}
		item = &models.Item{Username: username, JID: peerAddr}
		created = true
	default:
		return nil, false, err
	}

	changed, subChanged := applyTransition(item, dir, typ)
	if item.Shared() {
		// Shared-group items are implied, not owned; they never carry a
		// pending outbound ask and never touch the store.
		item.Ask = models.AskNone
		return item, subChanged, nil
	}
	// A brand-new item holding nothing but a pending inbound request stays
	// transient until the owner answers it.
	pendingInOnly := created && item.Sub == models.SubNone && item.Recv == models.RecvSubscribe
	if changed && !pendingInOnly {
		if err := e.store.Upsert(ctx, item); err != nil {
			return nil, false, err
		}
	}
	return item, subChanged, nil
}
