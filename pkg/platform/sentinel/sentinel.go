package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and cache layers return
// these (optionally wrapped) so the routing and subscription services can
// translate them into protocol outcomes.
//
// These represent factual states about resources, not protocol violations:
// - ErrNotFound: entity does not exist in store or cache
// - ErrConflict: write lost against a concurrent update
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backend temporarily unreachable (treated as "not found"
//   by routing per the fail-open-toward-non-delivery rule)
//
// Protocol violations (for example a presence stanza addressed to a bare
// JID) are package-level errors owned by the package that detects them.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
