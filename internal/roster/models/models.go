// Package models defines the roster item and its subscription state enums.
package models

// Sub is the subscription status between the roster owner and the peer.
type Sub int

const (
	SubNone Sub = iota
	SubTo
	SubFrom
	SubBoth
	// SubRemove marks an item scheduled for deletion in roster pushes; the
	// subscription engine never produces it.
	SubRemove
)

func (s Sub) String() string {
	switch s {
	case SubNone:
		return "none"
	case SubTo:
		return "to"
	case SubFrom:
		return "from"
	case SubBoth:
		return "both"
	case SubRemove:
		return "remove"
	}
	return "unknown"
}

// Ask tracks an outbound subscription request the owner has sent but the
// peer has not yet answered. It is only meaningful relative to the owning
// roster.
type Ask int

const (
	AskNone Ask = iota
	AskSubscribe
	AskUnsubscribe
)

func (a Ask) String() string {
	switch a {
	case AskSubscribe:
		return "subscribe"
	case AskUnsubscribe:
		return "unsubscribe"
	}
	return "none"
}

// Recv tracks an inbound request from the peer that has not yet been
// surfaced to the owner.
type Recv int

const (
	RecvNone Recv = iota
	RecvSubscribe
	RecvUnsubscribe
)

func (r Recv) String() string {
	switch r {
	case RecvSubscribe:
		return "subscribe"
	case RecvUnsubscribe:
		return "unsubscribe"
	}
	return "none"
}

// Origin distinguishes items the owner created (persisted) from items that
// exist only because a shared group places the peer on the owner's roster.
// Shared-group items are reconstructed on demand and never written to the
// store.
type Origin int

const (
	OriginPersisted Origin = iota
	OriginSharedGroup
)

// Item is one roster entry: the owner's relationship with a single peer.
type Item struct {
	Username string // roster owner's localpart
	JID      string // peer bare address
	Name     string
	Sub      Sub
	Ask      Ask
	Recv     Recv
	Groups   []string
	Origin   Origin
	// SharedGroups names the shared groups that currently imply this item
	// when Origin is OriginSharedGroup.
	SharedGroups []string
}

// Shared reports whether the item exists only through shared-group
// membership.
func (i *Item) Shared() bool { return i.Origin == OriginSharedGroup }
