package router

import (
	"context"
	"errors"
	"log/slog"

	"mellium.im/xmpp/jid"

	"courier/internal/cluster"
	"courier/internal/platform/metrics"
	"courier/internal/stanza"
)

// ErrMalformedTarget is returned when a stanza kind that requires a resource
// is addressed to a bare jid. Unlike an unreachable address, this is a caller
// fault and never goes through failure dispatch.
var ErrMalformedTarget = errors.New("router: stanza kind requires a full jid target")

// Table is the routing table. It owns the local route registry, publishes
// route state to the cluster cache, and resolves every inbound stanza to a
// delivery handle, a remote node, or a failure dispatch.
type Table struct {
	domain string
	node   string

	registry *Registry
	cache    cluster.Cache
	locator  SessionLocator
	failures FailureNotifier
	directed DirectPresence

	remote       RemoteRouter
	presenceSync PresenceSync
	deliverToAll bool
	log          *slog.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the routing logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Table) { t.log = log }
}

// WithRemoteRouter enables cluster forwarding. Without it, addresses owned by
// other nodes are unreachable.
func WithRemoteRouter(remote RemoteRouter) Option {
	return func(t *Table) { t.remote = remote }
}

// WithPresenceSync registers the hook invoked for every local route when
// cluster membership changes force a route republish.
func WithPresenceSync(sync PresenceSync) Option {
	return func(t *Table) { t.presenceSync = sync }
}

// WithDeliverToAll switches bare-address delivery from single-resource
// selection to fan-out across the whole top-priority tier.
func WithDeliverToAll() Option {
	return func(t *Table) { t.deliverToAll = true }
}

// WithSessionLocator overrides the session locator used for local deliveries.
// The default is the route registry.
func WithSessionLocator(locator SessionLocator) Option {
	return func(t *Table) { t.locator = locator }
}

// NewTable builds a routing table for the given served domain and node id.
func NewTable(domain, nodeID string, registry *Registry, cache cluster.Cache, failures FailureNotifier, directed DirectPresence, opts ...Option) *Table {
	t := &Table{
		domain:   domain,
		node:     nodeID,
		registry: registry,
		cache:    cache,
		locator:  registry,
		failures: failures,
		directed: directed,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BindPresence installs the presence collaborators after construction. The
// presence manager routes through the table, so the references have to be
// bound late on one side.
func (t *Table) BindPresence(directed DirectPresence, sync PresenceSync) {
	t.directed = directed
	t.presenceSync = sync
}

// AddClientRoute registers a session's delivery handle and publishes its
// route entry to the cluster. The entry carries the presence attributes that
// drive bare-address resource selection and is written as a whole value, so a
// presence flip can never be observed half-applied. It reports whether the
// address was new to the cluster cache.
func (t *Table) AddClientRoute(ctx context.Context, route ClientRoute) (bool, error) {
	t.registry.Put(route)
	metrics.SetLocalRoutes(t.registry.Len())

	full := route.JID().String()
	entry := cluster.Entry{NodeID: t.node, LastSeen: route.LastActivity().UnixNano()}
	if p := route.Presence(); p != nil {
		entry.Available = p.Available()
		entry.Priority = p.Priority
		entry.Show = p.Show
	}

	var (
		added bool
		err   error
	)
	if route.IsAnonymous() {
		added, err = t.cache.PutAnonymous(ctx, full, entry)
	} else {
		added, err = t.cache.PutRegistered(ctx, full, entry)
	}
	if err != nil {
		return false, err
	}
	// The session index is keyed by bare address. A bind registers the
	// address before initial presence, so index it on the first sighting and
	// again whenever it is still pre-available.
	if route.JID().Resourcepart() != "" && (!entry.Available || added) {
		if err := t.cache.AddSession(ctx, route.JID().Bare().String(), full); err != nil {
			return false, err
		}
	}
	return added, nil
}

// RemoveClientRoute withdraws the cluster route entry and the local delivery
// handle for a full address. It reports whether the cluster had the entry.
func (t *Table) RemoveClientRoute(ctx context.Context, j jid.JID) (bool, error) {
	full := j.String()
	bare := j.Bare().String()

	existed, err := t.cache.DeleteRegistered(ctx, full)
	if err != nil {
		return false, err
	}
	if existed {
		if err := t.cache.RemoveSession(ctx, bare, full); err != nil {
			return false, err
		}
	} else {
		existed, err = t.cache.DeleteAnonymous(ctx, full)
		if err != nil {
			return false, err
		}
		if existed {
			if err := t.cache.DropSessions(ctx, bare); err != nil {
				return false, err
			}
		}
	}
	t.registry.Delete(full)
	metrics.SetLocalRoutes(t.registry.Len())
	return existed, nil
}

// RoutePacket resolves the stanza's target and delivers it. fromServer marks
// server-injected stanzas, which bypass the availability check. An unreachable
// target is not an error: the stanza goes to the failure notifier and
// RoutePacket returns nil. The only routing error is a malformed target.
func (t *Table) RoutePacket(ctx context.Context, st stanza.Stanza, fromServer bool) error {
	if !st.HasTo() {
		return ErrMalformedTarget
	}
	if st.To().Domainpart() != t.domain {
		t.dispatchFailure(ctx, st)
		return nil
	}
	delivered, err := t.routeToLocalDomain(ctx, st, fromServer)
	if err != nil {
		return err
	}
	if !delivered {
		t.dispatchFailure(ctx, st)
		return nil
	}
	metrics.StanzaRouted(st.Kind().String())
	return nil
}

func (t *Table) routeToLocalDomain(ctx context.Context, st stanza.Stanza, fromServer bool) (bool, error) {
	if st.To().Resourcepart() == "" {
		if st.Kind() != stanza.KindMessage {
			return false, ErrMalformedTarget
		}
		return t.routeToBareJID(ctx, st), nil
	}
	return t.routeToFullJID(ctx, st, fromServer), nil
}

func (t *Table) routeToFullJID(ctx context.Context, st stanza.Stanza, fromServer bool) bool {
	to := st.To()
	entry, ok := t.lookupEntry(ctx, to.String())
	if !ok {
		return false
	}
	if !entry.Available && t.routeOnlyAvailable(st, fromServer) {
		if t.directed == nil || !t.directed.HasDirectPresence(to, st.From()) {
			return false
		}
	}
	if entry.NodeID == t.node {
		route, ok := t.locator.Session(to)
		if !ok {
			return false
		}
		if err := route.Process(ctx, st); err != nil {
			t.log.Warn("local delivery failed", "jid", to.String(), "error", err)
			return false
		}
		return true
	}
	if t.remote == nil {
		return false
	}
	metrics.RemoteForward()
	return t.remote.RoutePacket(ctx, entry.NodeID, to, st)
}

// lookupEntry resolves a full address against the registered cache with the
// anonymous cache as fallback. A cache error reads as absence; the caller
// escalates through the normal undeliverable path.
func (t *Table) lookupEntry(ctx context.Context, full string) (cluster.Entry, bool) {
	entry, ok, err := t.cache.Registered(ctx, full)
	if err != nil {
		t.log.Warn("route cache lookup failed", "jid", full, "error", err)
		return cluster.Entry{}, false
	}
	if ok {
		return entry, true
	}
	entry, ok, err = t.cache.Anonymous(ctx, full)
	if err != nil {
		t.log.Warn("route cache lookup failed", "jid", full, "error", err)
		return cluster.Entry{}, false
	}
	return entry, ok
}

// routeOnlyAvailable reports whether delivery requires the target session to
// have broadcast available presence. Server-originated stanzas are exempt so
// probes and subscription state reach sessions that have not yet sent initial
// presence.
func (t *Table) routeOnlyAvailable(st stanza.Stanza, fromServer bool) bool {
	if fromServer {
		return false
	}
	from := st.From()
	if st.Kind() == stanza.KindIQ {
		if st.HasFrom() && from.Localpart() == "" && from.Resourcepart() == "" && from.Domainpart() == t.domain {
			return false
		}
		return true
	}
	if !st.HasFrom() || from.String() == t.domain {
		return false
	}
	return true
}

// bareCandidate pairs a deliverable full address with its replicated route
// entry. Selection runs on the entry's presence attributes, so resources
// owned by other nodes compete on equal footing with local ones.
type bareCandidate struct {
	jid   jid.JID
	entry cluster.Entry
}

// routeToBareJID picks the receiving resource(s) for a bare-addressed
// message: the sessions tied at the highest non-negative priority, narrowed
// by show rank and then recency, or the whole tier when fan-out delivery is
// enabled.
func (t *Table) routeToBareJID(ctx context.Context, st stanza.Stanza) bool {
	bare := st.To().Bare().String()
	fulls, err := t.cache.Sessions(ctx, bare)
	if err != nil {
		t.log.Warn("session index lookup failed", "jid", bare, "error", err)
		return false
	}

	var candidates []bareCandidate
	for _, full := range fulls {
		fj, err := jid.Parse(full)
		if err != nil {
			continue
		}
		entry, ok := t.lookupEntry(ctx, full)
		if !ok {
			continue
		}
		if !entry.Available {
			if t.directed == nil || !t.directed.HasDirectPresence(fj, st.From()) {
				continue
			}
		}
		candidates = append(candidates, bareCandidate{jid: fj, entry: entry})
	}

	tier := highestPriorityTier(candidates)
	switch {
	case len(tier) == 0:
		return false
	case len(tier) == 1:
		return t.deliverTo(ctx, tier[0], st)
	case t.deliverToAll:
		delivered := false
		for _, c := range tier {
			if t.deliverTo(ctx, c, st) {
				delivered = true
			}
		}
		return delivered
	default:
		return t.deliverTo(ctx, pickResource(tier), st)
	}
}

// highestPriorityTier keeps the candidates tied at the maximum priority,
// excluding negative priorities entirely. A session with no broadcast
// presence counts as priority zero.
func highestPriorityTier(candidates []bareCandidate) []bareCandidate {
	var (
		tier []bareCandidate
		best int8
	)
	for _, c := range candidates {
		p := c.entry.Priority
		if p < 0 {
			continue
		}
		switch {
		case tier == nil || p > best:
			tier = []bareCandidate{c}
			best = p
		case p == best:
			tier = append(tier, c)
		}
	}
	return tier
}

// pickResource breaks a priority tie: the most interactive show value wins,
// then the session with the most recent activity.
func pickResource(tier []bareCandidate) bareCandidate {
	best := tier[0]
	for _, c := range tier[1:] {
		rank, bestRank := c.entry.Show.Rank(), best.entry.Show.Rank()
		if rank < bestRank || (rank == bestRank && c.entry.LastSeen > best.entry.LastSeen) {
			best = c
		}
	}
	return best
}

// deliverTo hands a per-recipient copy to the candidate's owner, re-addressed
// to the chosen full jid so the session layer sees which resource was
// selected.
func (t *Table) deliverTo(ctx context.Context, c bareCandidate, st stanza.Stanza) bool {
	cp := st.Clone()
	cp.SetTo(c.jid)
	if c.entry.NodeID == t.node {
		route, ok := t.locator.Session(c.jid)
		if !ok {
			return false
		}
		if err := route.Process(ctx, cp); err != nil {
			t.log.Warn("delivery failed", "jid", c.jid.String(), "error", err)
			return false
		}
		return true
	}
	if t.remote == nil {
		return false
	}
	metrics.RemoteForward()
	return t.remote.RoutePacket(ctx, c.entry.NodeID, c.jid, cp)
}

// Routes lists the full addresses currently registered under a bare address,
// cluster-wide. The subscription engine fans out through it.
func (t *Table) Routes(ctx context.Context, bare jid.JID) []jid.JID {
	fulls, err := t.cache.Sessions(ctx, bare.Bare().String())
	if err != nil {
		t.log.Warn("session index lookup failed", "jid", bare.Bare().String(), "error", err)
		return nil
	}
	out := make([]jid.JID, 0, len(fulls))
	for _, full := range fulls {
		fj, err := jid.Parse(full)
		if err != nil {
			continue
		}
		out = append(out, fj)
	}
	return out
}

// JoinedCluster reacts to a node joining: every local route is republished so
// the new node's cache view includes it, and presence is resynced so roster
// probing picks the route up.
func (t *Table) JoinedCluster(ctx context.Context, nodeID string) {
	if nodeID == t.node {
		return
	}
	t.republishRoutes(ctx)
}

// LeftCluster reacts to a node leaving. A departure of this node itself is a
// shutdown and republishing would resurrect routes that are going away, so it
// is skipped.
func (t *Table) LeftCluster(ctx context.Context, nodeID string) {
	if nodeID == t.node {
		return
	}
	t.republishRoutes(ctx)
}

func (t *Table) republishRoutes(ctx context.Context) {
	for _, route := range t.registry.All() {
		if _, err := t.AddClientRoute(ctx, route); err != nil {
			t.log.Warn("route republish failed", "jid", route.JID().String(), "error", err)
			continue
		}
		if t.presenceSync != nil {
			t.presenceSync.PresenceUpdated(ctx, route)
		}
	}
}

func (t *Table) dispatchFailure(ctx context.Context, st stanza.Stanza) {
	metrics.RoutingFailed(st.Kind().String())
	if t.failures == nil {
		return
	}
	switch s := st.(type) {
	case *stanza.IQ:
		t.failures.IQFailed(ctx, st.To(), s)
	case *stanza.Message:
		t.failures.MessageFailed(ctx, st.To(), s)
	case *stanza.Presence:
		t.failures.PresenceFailed(ctx, st.To(), s)
	}
}
