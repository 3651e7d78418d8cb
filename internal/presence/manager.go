// Package presence tracks availability state: the last broadcast presence of
// every local session, directed presences that open unavailable sessions to
// selected peers, and the broadcast and probe traffic availability changes
// imply.
package presence

import (
	"context"
	"log/slog"
	"sync"

	"mellium.im/xmpp/jid"

	"courier/internal/roster/models"
	"courier/internal/roster/store"
	"courier/internal/router"
	"courier/internal/stanza"
)

// Router is the slice of the routing table the manager needs.
type Router interface {
	RoutePacket(ctx context.Context, st stanza.Stanza, fromServer bool) error
	Routes(ctx context.Context, bare jid.JID) []jid.JID
}

// Deliverer is the best-effort send for recipients without a routable
// session.
type Deliverer interface {
	Deliver(ctx context.Context, st stanza.Stanza) error
}

// Manager owns the availability state of local sessions.
type Manager struct {
	domain    string
	store     store.Store
	router    Router
	deliverer Deliverer
	log       *slog.Logger

	mu sync.RWMutex
	// last broadcast presence, keyed bare address then full address
	last map[string]map[string]*stanza.Presence
	// directed presence recipients, keyed by the sending session's full
	// address
	directed map[string]map[string]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager builds a presence manager for the given served domain.
func NewManager(domain string, st store.Store, router Router, deliverer Deliverer, opts ...Option) *Manager {
	m := &Manager{
		domain:    domain,
		store:     st,
		router:    router,
		deliverer: deliverer,
		log:       slog.Default(),
		last:      make(map[string]map[string]*stanza.Presence),
		directed:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandlePresence processes a non-subscription presence from a local session.
// A presence without a target is a broadcast; one with a target is directed.
func (m *Manager) HandlePresence(ctx context.Context, p *stanza.Presence) error {
	if p.Subscription() {
		return nil
	}
	if !p.HasFrom() {
		return nil
	}
	switch {
	case p.Type == stanza.PresenceProbe:
		if p.HasTo() {
			m.ProbePresence(ctx, p.From(), p.To())
		}
		return nil
	case !p.HasTo():
		return m.broadcast(ctx, p)
	default:
		return m.directedTo(ctx, p)
	}
}

// broadcast records the session's presence and fans it out to every peer
// holding a subscription to the sender, plus the sender's other sessions.
func (m *Manager) broadcast(ctx context.Context, p *stanza.Presence) error {
	from := p.From()
	bare := from.Bare()
	m.record(from, p)

	items, err := m.store.FetchItems(ctx, from.Localpart())
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Sub != models.SubFrom && item.Sub != models.SubBoth {
			continue
		}
		peer, err := jid.Parse(item.JID)
		if err != nil {
			continue
		}
		m.sendToPeer(ctx, p, from, peer)
	}
	// Other sessions of the same account mirror each other's availability.
	for _, full := range m.router.Routes(ctx, bare) {
		if full.Equal(from) {
			continue
		}
		cp := p.Clone()
		cp.SetTo(full)
		if err := m.router.RoutePacket(ctx, cp, false); err != nil {
			m.log.Warn("self presence sync failed", "to", full.String(), "error", err)
		}
	}
	return nil
}

func (m *Manager) sendToPeer(ctx context.Context, p *stanza.Presence, from, peer jid.JID) {
	fulls := m.router.Routes(ctx, peer)
	if len(fulls) == 0 {
		cp := p.Clone()
		cp.SetFrom(from)
		cp.SetTo(peer.Bare())
		if err := m.deliverer.Deliver(ctx, cp); err != nil {
			m.log.Warn("presence delivery failed", "to", peer.String(), "error", err)
		}
		return
	}
	for _, full := range fulls {
		cp := p.Clone()
		cp.SetFrom(from)
		cp.SetTo(full)
		if err := m.router.RoutePacket(ctx, cp, false); err != nil {
			m.log.Warn("presence delivery failed", "to", full.String(), "error", err)
		}
	}
}

// directedTo forwards a presence aimed at a specific peer and remembers the
// recipient so replies can reach the sender even after it goes unavailable.
func (m *Manager) directedTo(ctx context.Context, p *stanza.Presence) error {
	from := p.From()
	to := p.To()

	m.mu.Lock()
	key := from.String()
	if p.Available() {
		set, ok := m.directed[key]
		if !ok {
			set = make(map[string]struct{})
			m.directed[key] = set
		}
		set[to.Bare().String()] = struct{}{}
	} else {
		if set, ok := m.directed[key]; ok {
			delete(set, to.Bare().String())
			if len(set) == 0 {
				delete(m.directed, key)
			}
		}
	}
	m.mu.Unlock()

	if to.Resourcepart() != "" {
		return m.router.RoutePacket(ctx, p, false)
	}
	m.sendToPeer(ctx, p, from, to)
	return nil
}

// HasDirectPresence reports whether target sent a directed presence to
// requester that is still in effect.
func (m *Manager) HasDirectPresence(target, requester jid.JID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.directed[target.String()]
	if !ok {
		return false
	}
	_, ok = set[requester.Bare().String()]
	return ok
}

// ProbePresence answers a probe: every known presence of the target's
// sessions goes to the prober, or a single unavailable when none is known.
func (m *Manager) ProbePresence(ctx context.Context, prober, target jid.JID) {
	bare := target.Bare()

	m.mu.RLock()
	var known []*stanza.Presence
	for _, p := range m.last[bare.String()] {
		known = append(known, p.Clone().(*stanza.Presence))
	}
	m.mu.RUnlock()

	if len(known) == 0 {
		p := &stanza.Presence{Type: stanza.PresenceUnavailable}
		p.SetFrom(bare)
		p.SetTo(prober)
		if err := m.deliverer.Deliver(ctx, p); err != nil {
			m.log.Warn("probe reply failed", "to", prober.String(), "error", err)
		}
		return
	}
	for _, p := range known {
		p.SetTo(prober)
		if err := m.deliverer.Deliver(ctx, p); err != nil {
			m.log.Warn("probe reply failed", "to", prober.String(), "error", err)
		}
	}
}

// PresenceUpdated re-broadcasts a session's presence after cluster membership
// changes, so the rebuilt route state is followed by fresh availability.
func (m *Manager) PresenceUpdated(ctx context.Context, route router.ClientRoute) {
	p := route.Presence()
	if p == nil {
		return
	}
	cp := p.Clone().(*stanza.Presence)
	cp.SetFrom(route.JID())
	cp.SetTo(jid.JID{})
	if err := m.broadcast(ctx, cp); err != nil {
		m.log.Warn("presence resync failed", "jid", route.JID().String(), "error", err)
	}
}

func (m *Manager) record(from jid.JID, p *stanza.Presence) {
	bare := from.Bare().String()
	full := from.String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Available() {
		byFull, ok := m.last[bare]
		if !ok {
			byFull = make(map[string]*stanza.Presence)
			m.last[bare] = byFull
		}
		byFull[full] = p.Clone().(*stanza.Presence)
		return
	}
	if byFull, ok := m.last[bare]; ok {
		delete(byFull, full)
		if len(byFull) == 0 {
			delete(m.last, bare)
		}
	}
	delete(m.directed, full)
}
