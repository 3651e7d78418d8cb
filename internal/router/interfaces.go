// Package router implements the routing table: the authoritative mapping
// from protocol addresses to live delivery endpoints, including cluster-wide
// visibility, resource selection for bare-address delivery, and
// delivery-failure escalation.
package router

import (
	"context"
	"time"

	"mellium.im/xmpp/jid"

	"courier/internal/stanza"
)

// ClientRoute is the local delivery handle a session layer registers for a
// full address. Only the owning process ever mutates the handle; it is never
// replicated.
type ClientRoute interface {
	// JID returns the full address the session bound.
	JID() jid.JID
	// Process delivers a stanza to the session.
	Process(ctx context.Context, st stanza.Stanza) error
	// Presence returns the last presence the session broadcast, or nil
	// before initial presence.
	Presence() *stanza.Presence
	// LastActivity returns the time of the session's most recent traffic.
	LastActivity() time.Time
	// IsAnonymous reports whether the authenticated identity is anonymous.
	IsAnonymous() bool
	// IsLocalRoute reports whether the handle delivers in-process.
	IsLocalRoute() bool
}

// SessionLocator resolves a full address to its live local session handle.
// The route registry satisfies it; remote resources are reached through the
// cluster cache and RemoteRouter instead.
type SessionLocator interface {
	Session(full jid.JID) (ClientRoute, bool)
}

// Deliverer is the best-effort direct send that bypasses routing, used for
// error replies and for stanzas with no resolvable route.
type Deliverer interface {
	Deliver(ctx context.Context, st stanza.Stanza) error
}

// FailureNotifier is invoked when RoutePacket cannot deliver; the stanza kind
// picks the method. Implementations generate the protocol-standard error
// reply or store the stanza offline.
type FailureNotifier interface {
	IQFailed(ctx context.Context, to jid.JID, iq *stanza.IQ)
	MessageFailed(ctx context.Context, to jid.JID, msg *stanza.Message)
	PresenceFailed(ctx context.Context, to jid.JID, p *stanza.Presence)
}

// DirectPresence answers whether target previously sent a directed presence
// to requester, which permits delivery to the target's route even while it
// is unavailable.
type DirectPresence interface {
	HasDirectPresence(target, requester jid.JID) bool
}

// RemoteRouter is the cluster transport. It is nil when clustering is
// disabled, in which case addresses not found locally are simply
// unreachable. RoutePacket reports delivery as a boolean; transport failure
// is "not delivered", never an error that aborts routing of other stanzas.
type RemoteRouter interface {
	RoutePacket(ctx context.Context, nodeID string, to jid.JID, st stanza.Stanza) bool
	BroadcastPacket(ctx context.Context, st stanza.Stanza)
}

// PresenceSync is notified when cluster membership changes force every local
// session's presence to be reprocessed as if newly available, so peers learn
// about it and roster probing resumes.
type PresenceSync interface {
	PresenceUpdated(ctx context.Context, route ClientRoute)
}
