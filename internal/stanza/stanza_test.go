package stanza

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"mellium.im/xmpp/jid"
)

type StanzaSuite struct {
	suite.Suite
}

func TestStanzaSuite(t *testing.T) {
	suite.Run(t, new(StanzaSuite))
}

func (s *StanzaSuite) TestShowRank() {
	// chat outranks everything; dnd is the least deliverable
	order := []Show{ShowChat, ShowNone, ShowAway, ShowXA, ShowDND}
	for i := 1; i < len(order); i++ {
		s.Less(order[i-1].Rank(), order[i].Rank(), "%q must outrank %q", order[i-1], order[i])
	}
}

func (s *StanzaSuite) TestPresenceClassification() {
	s.Run("subscription types", func() {
		for _, typ := range []PresenceType{PresenceSubscribe, PresenceSubscribed, PresenceUnsubscribe, PresenceUnsubscribed} {
			p := &Presence{Type: typ}
			s.True(p.Subscription(), "%q is a subscription presence", typ)
			s.False(p.Available())
		}
	})

	s.Run("availability types", func() {
		s.True((&Presence{Type: PresenceAvailable}).Available())
		s.False((&Presence{Type: PresenceUnavailable}).Available())
		s.False((&Presence{Type: PresenceProbe}).Subscription())
	})
}

func (s *StanzaSuite) TestCloneLeavesOriginalAlone() {
	m := &Message{Type: MessageChat, Body: "hi"}
	m.SetFrom(jid.MustParse("alice@localhost/desk"))
	m.SetTo(jid.MustParse("bob@localhost"))

	cp := m.Clone()
	cp.SetTo(jid.MustParse("bob@localhost/phone"))

	s.Equal("bob@localhost", m.To().String())
	s.Equal("bob@localhost/phone", cp.To().String())
}

func (s *StanzaSuite) TestClusterCodec() {
	s.Run("message survives the bus", func() {
		m := &Message{Type: MessageChat, Subject: "", Body: "hello", Payload: []byte(`<x/>`)}
		m.StanzaID = "m1"
		m.SetFrom(jid.MustParse("alice@localhost/desk"))
		m.SetTo(jid.MustParse("bob@localhost/phone"))

		raw, err := Encode(m)
		s.Require().NoError(err)
		st, err := Decode(raw)
		s.Require().NoError(err)

		got, ok := st.(*Message)
		s.Require().True(ok)
		s.Equal("hello", got.Body)
		s.Equal("alice@localhost/desk", got.From().String())
		s.Equal("bob@localhost/phone", got.To().String())
		s.Equal([]byte(`<x/>`), got.Payload)
	})

	s.Run("presence keeps priority and show", func() {
		p := &Presence{Type: PresenceAvailable, Show: ShowDND, Status: "busy", Priority: -1}
		p.SetFrom(jid.MustParse("alice@localhost/desk"))

		raw, err := Encode(p)
		s.Require().NoError(err)
		st, err := Decode(raw)
		s.Require().NoError(err)

		got, ok := st.(*Presence)
		s.Require().True(ok)
		s.Equal(ShowDND, got.Show)
		s.Equal(int8(-1), got.Priority)
		s.False(got.HasTo())
	})

	s.Run("iq keeps its id for reply correlation", func() {
		iq := &IQ{Type: IQGet, Payload: []byte(`{"query":"roster"}`)}
		iq.StanzaID = "q42"
		iq.SetFrom(jid.MustParse("alice@localhost/desk"))
		iq.SetTo(jid.MustParse("localhost"))

		raw, err := Encode(iq)
		s.Require().NoError(err)
		st, err := Decode(raw)
		s.Require().NoError(err)
		s.Equal("q42", st.ID())
	})

	s.Run("garbage is rejected", func() {
		_, err := Decode([]byte(`{"kind":99,"stanza":{}}`))
		s.Error(err)
	})
}
