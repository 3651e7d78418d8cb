package stanza

// PresenceType is the presence stanza type attribute. The empty string means
// available, per protocol convention.
type PresenceType string

const (
	PresenceAvailable    PresenceType = ""
	PresenceUnavailable  PresenceType = "unavailable"
	PresenceSubscribe    PresenceType = "subscribe"
	PresenceSubscribed   PresenceType = "subscribed"
	PresenceUnsubscribe  PresenceType = "unsubscribe"
	PresenceUnsubscribed PresenceType = "unsubscribed"
	PresenceProbe        PresenceType = "probe"
	PresenceError        PresenceType = "error"
)

// Show is the secondary availability hint layered under numeric priority.
type Show string

const (
	ShowNone Show = ""
	ShowChat Show = "chat"
	ShowAway Show = "away"
	ShowXA   Show = "xa"
	ShowDND  Show = "dnd"
)

// Rank orders show values for bare-address resource selection: chat beats
// plain available, which beats away, xa, and dnd in that order. Lower is
// better. Unknown values rank as plain available.
func (s Show) Rank() int {
	switch s {
	case ShowChat:
		return 1
	case ShowAway:
		return 3
	case ShowXA:
		return 4
	case ShowDND:
		return 5
	default:
		return 2
	}
}

// Presence is a presence stanza.
type Presence struct {
	Header
	Type     PresenceType
	Show     Show
	Status   string
	Priority int8
}

func (p *Presence) Kind() Kind { return KindPresence }

func (p *Presence) Clone() Stanza {
	cp := *p
	return &cp
}

// Available reports whether this is an available presence.
func (p *Presence) Available() bool { return p.Type == PresenceAvailable }

// Subscription reports whether this presence is one of the four
// subscription-management types handled by the subscription engine.
func (p *Presence) Subscription() bool {
	switch p.Type {
	case PresenceSubscribe, PresenceSubscribed, PresenceUnsubscribe, PresenceUnsubscribed:
		return true
	}
	return false
}
