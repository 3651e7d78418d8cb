// Package cluster holds the cluster-replicated routing state: the client
// route caches, the bare-address session index, and the transport that
// forwards stanzas to the nodes that own remote sessions.
package cluster

import (
	"context"

	"courier/internal/stanza"
)

// Entry is the replicated value describing a client route. It carries the
// presence attributes bare-address resource selection runs on, so routing can
// rank resources owned by any node without reaching their sessions. It is
// immutable: any state change writes a whole new Entry so replication stays
// atomic.
type Entry struct {
	NodeID    string      `json:"node_id"`
	Available bool        `json:"available"`
	Priority  int8        `json:"priority,omitempty"`
	Show      stanza.Show `json:"show,omitempty"`
	LastSeen  int64       `json:"last_seen,omitempty"`
}

// Cache is the cluster-visible route state: a cache of registered client
// routes, a cache of anonymous client routes, and an index from bare address
// to the full addresses registered under it. A given full address lives in
// exactly one of the two route caches for its lifetime, so lookups that probe
// both caches need no combined lock.
//
// Implementations must make every method safe under arbitrary interleaving
// from session workers and membership callbacks, and must scope
// read-modify-write sequences (session-index add and prune) to the affected
// key only. Backed implementations may block on network round-trips; they
// bound those with a timeout and report timeouts as absence.
type Cache interface {
	// PutRegistered stores the route entry for a registered user's full
	// address, replacing any previous entry wholesale. It reports whether the
	// key was absent before the write.
	PutRegistered(ctx context.Context, full string, e Entry) (bool, error)
	// PutAnonymous is PutRegistered for anonymous users.
	PutAnonymous(ctx context.Context, full string, e Entry) (bool, error)

	Registered(ctx context.Context, full string) (Entry, bool, error)
	Anonymous(ctx context.Context, full string) (Entry, bool, error)

	// DeleteRegistered removes the entry and reports whether it existed.
	DeleteRegistered(ctx context.Context, full string) (bool, error)
	DeleteAnonymous(ctx context.Context, full string) (bool, error)

	// AddSession records full under the bare-address session index.
	AddSession(ctx context.Context, bare, full string) error
	// Sessions lists the full addresses registered under bare.
	Sessions(ctx context.Context, bare string) ([]string, error)
	// RemoveSession prunes full from the bare index, dropping the bare key
	// entirely once its set empties.
	RemoveSession(ctx context.Context, bare, full string) error
	// DropSessions removes the whole index entry for bare.
	DropSessions(ctx context.Context, bare string) error
}
