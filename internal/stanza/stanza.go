// Package stanza holds the in-memory model of routed stanzas. The XML wire
// grammar lives in the stream layer; routing and subscription logic only care
// about kind, addressing, and the presence attributes that drive resource
// selection.
package stanza

import (
	"mellium.im/xmpp/jid"
)

// Kind is the stanza kind: message, presence, or IQ.
type Kind int

const (
	KindMessage Kind = iota
	KindPresence
	KindIQ
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	case KindIQ:
		return "iq"
	}
	return "unknown"
}

// Stanza is the common surface the router and subscription engine operate on.
// Addresses are jid values; the zero value means the attribute is absent
// (HasFrom and HasTo report presence). Address mutation happens on copies when
// a stanza fans out to multiple recipients.
type Stanza interface {
	Kind() Kind
	ID() string
	From() jid.JID
	To() jid.JID
	HasFrom() bool
	HasTo() bool
	SetFrom(jid.JID)
	SetTo(jid.JID)
	Clone() Stanza
}

// Header carries the attributes shared by every stanza kind.
type Header struct {
	StanzaID string
	FromJID  jid.JID
	ToJID    jid.JID
}

func (h *Header) ID() string        { return h.StanzaID }
func (h *Header) From() jid.JID     { return h.FromJID }
func (h *Header) To() jid.JID       { return h.ToJID }
func (h *Header) HasFrom() bool     { return !h.FromJID.Equal(jid.JID{}) }
func (h *Header) HasTo() bool       { return !h.ToJID.Equal(jid.JID{}) }
func (h *Header) SetFrom(j jid.JID) { h.FromJID = j }
func (h *Header) SetTo(j jid.JID)   { h.ToJID = j }

// MessageType is the message stanza type attribute.
type MessageType string

const (
	MessageNormal    MessageType = "normal"
	MessageChat      MessageType = "chat"
	MessageGroupChat MessageType = "groupchat"
	MessageHeadline  MessageType = "headline"
	MessageError     MessageType = "error"
)

// Message is a message stanza. Payload carries the serialized child elements
// opaquely; this core never inspects them.
type Message struct {
	Header
	Type    MessageType
	Subject string
	Body    string
	Payload []byte
}

func (m *Message) Kind() Kind { return KindMessage }

func (m *Message) Clone() Stanza {
	cp := *m
	return &cp
}

// IQType is the IQ stanza type attribute.
type IQType string

const (
	IQGet    IQType = "get"
	IQSet    IQType = "set"
	IQResult IQType = "result"
	IQError  IQType = "error"
)

// IQ is an info/query stanza. The query payload is opaque to this core.
type IQ struct {
	Header
	Type    IQType
	Payload []byte
}

func (iq *IQ) Kind() Kind { return KindIQ }

func (iq *IQ) Clone() Stanza {
	cp := *iq
	return &cp
}
