package engine

import (
	"courier/internal/roster/models"
	"courier/internal/stanza"
)

// direction says whose copy of the relationship a subscription stanza is
// being applied to: the peer that sent it (dirSend) or the peer that
// receives it (dirRecv).
type direction int

const (
	dirRecv direction = iota
	dirSend
)

// stateKey addresses one cell of the transition table.
type stateKey struct {
	sub models.Sub
	dir direction
	typ stanza.PresenceType
}

// change is the set of fields a transition rewrites. A nil field is left
// untouched; an empty change is an explicit no-op.
type change struct {
	sub  *models.Sub
	ask  *models.Ask
	recv *models.Recv
}

func subV(s models.Sub) *models.Sub    { return &s }
func askV(a models.Ask) *models.Ask    { return &a }
func recvV(r models.Recv) *models.Recv { return &r }

// transitions is the full subscription state machine: every combination of
// current subscription status, direction, and subscription stanza type has a
// row, so applying a transition can never fall through. The rows follow the
// subscription state charts of RFC 6121 appendix A.
var transitions = map[stateKey]change{
	// status "none"
	{models.SubNone, dirRecv, stanza.PresenceSubscribe}:    {recv: recvV(models.RecvSubscribe)},
	{models.SubNone, dirRecv, stanza.PresenceSubscribed}:   {sub: subV(models.SubTo), ask: askV(models.AskNone)},
	{models.SubNone, dirRecv, stanza.PresenceUnsubscribe}:  {},
	{models.SubNone, dirRecv, stanza.PresenceUnsubscribed}: {ask: askV(models.AskNone)},
	{models.SubNone, dirSend, stanza.PresenceSubscribe}:    {ask: askV(models.AskSubscribe)},
	{models.SubNone, dirSend, stanza.PresenceSubscribed}:   {sub: subV(models.SubFrom), recv: recvV(models.RecvNone)},
	{models.SubNone, dirSend, stanza.PresenceUnsubscribe}:  {},
	{models.SubNone, dirSend, stanza.PresenceUnsubscribed}: {recv: recvV(models.RecvNone)},

	// status "from"
	{models.SubFrom, dirRecv, stanza.PresenceSubscribe}:    {recv: recvV(models.RecvNone)},
	{models.SubFrom, dirRecv, stanza.PresenceSubscribed}:   {},
	{models.SubFrom, dirRecv, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubNone)},
	{models.SubFrom, dirRecv, stanza.PresenceUnsubscribed}: {sub: subV(models.SubNone), recv: recvV(models.RecvNone)},
	{models.SubFrom, dirSend, stanza.PresenceSubscribe}:    {ask: askV(models.AskSubscribe)},
	{models.SubFrom, dirSend, stanza.PresenceSubscribed}:   {recv: recvV(models.RecvNone)},
	{models.SubFrom, dirSend, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubNone)},
	{models.SubFrom, dirSend, stanza.PresenceUnsubscribed}: {sub: subV(models.SubNone), recv: recvV(models.RecvNone)},

	// status "to"
	{models.SubTo, dirRecv, stanza.PresenceSubscribe}:    {recv: recvV(models.RecvSubscribe)},
	{models.SubTo, dirRecv, stanza.PresenceSubscribed}:   {},
	{models.SubTo, dirRecv, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubNone), recv: recvV(models.RecvNone)},
	{models.SubTo, dirRecv, stanza.PresenceUnsubscribed}: {sub: subV(models.SubNone), ask: askV(models.AskNone)},
	{models.SubTo, dirSend, stanza.PresenceSubscribe}:    {ask: askV(models.AskNone)},
	{models.SubTo, dirSend, stanza.PresenceSubscribed}:   {sub: subV(models.SubBoth), recv: recvV(models.RecvNone)},
	{models.SubTo, dirSend, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubNone), ask: askV(models.AskUnsubscribe)},
	{models.SubTo, dirSend, stanza.PresenceUnsubscribed}: {recv: recvV(models.RecvNone)},

	// status "both"
	{models.SubBoth, dirRecv, stanza.PresenceSubscribe}:    {recv: recvV(models.RecvNone)},
	{models.SubBoth, dirRecv, stanza.PresenceSubscribed}:   {},
	{models.SubBoth, dirRecv, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubTo), recv: recvV(models.RecvUnsubscribe)},
	{models.SubBoth, dirRecv, stanza.PresenceUnsubscribed}: {sub: subV(models.SubFrom), ask: askV(models.AskNone), recv: recvV(models.RecvNone)},
	{models.SubBoth, dirSend, stanza.PresenceSubscribe}:    {ask: askV(models.AskNone)},
	{models.SubBoth, dirSend, stanza.PresenceSubscribed}:   {recv: recvV(models.RecvNone)},
	{models.SubBoth, dirSend, stanza.PresenceUnsubscribe}:  {sub: subV(models.SubFrom), ask: askV(models.AskUnsubscribe)},
	{models.SubBoth, dirSend, stanza.PresenceUnsubscribed}: {sub: subV(models.SubTo), recv: recvV(models.RecvNone)},
}

// applyTransition mutates the item per the table and reports whether any
// field changed and whether the subscription status itself changed.
func applyTransition(item *models.Item, dir direction, typ stanza.PresenceType) (changed, subChanged bool) {
	ch, ok := transitions[stateKey{item.Sub, dir, typ}]
	if !ok {
		// SubRemove never reaches the engine; treat anything unknown as a
		// no-op rather than corrupting state.
		return false, false
	}
	if ch.sub != nil && item.Sub != *ch.sub {
		item.Sub = *ch.sub
		changed, subChanged = true, true
	}
	if ch.ask != nil && item.Ask != *ch.ask {
		item.Ask = *ch.ask
		changed = true
	}
	if ch.recv != nil && item.Recv != *ch.recv {
		item.Recv = *ch.recv
		changed = true
	}
	return changed, subChanged
}
