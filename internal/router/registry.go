package router

import (
	"sync"

	"mellium.im/xmpp/jid"
)

// Registry is the per-process map from full address to local delivery
// handle. It owns no cross-process knowledge; cluster visibility is the
// cache's job.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]ClientRoute
}

// NewRegistry returns an empty route registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]ClientRoute)}
}

// Put registers the handle under its full address, replacing any previous
// handle for the same address. It reports whether an existing handle was
// replaced so the session layer can apply its resource-conflict policy.
func (r *Registry) Put(route ClientRoute) (replaced bool) {
	full := route.JID().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.routes[full]
	r.routes[full] = route
	return replaced
}

// Get returns the handle for a full address.
func (r *Registry) Get(full string) (ClientRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[full]
	return route, ok
}

// Session implements SessionLocator over the local routes.
func (r *Registry) Session(full jid.JID) (ClientRoute, bool) {
	return r.Get(full.String())
}

// Delete removes the handle for a full address and reports whether it
// existed.
func (r *Registry) Delete(full string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routes[full]
	delete(r.routes, full)
	return ok
}

// Len returns the number of registered local routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// All returns a snapshot of every local route. Membership callbacks use it
// to republish routes; the snapshot is safe to iterate while sessions come
// and go.
func (r *Registry) All() []ClientRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientRoute, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	return out
}

// Matching returns the local routes bound under the given bare address.
func (r *Registry) Matching(bare jid.JID) []ClientRoute {
	prefix := bare.Bare().String()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ClientRoute
	for _, route := range r.routes {
		if route.JID().Bare().String() == prefix {
			out = append(out, route)
		}
	}
	return out
}
