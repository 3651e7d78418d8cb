package engine

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"courier/internal/roster/models"
	"courier/internal/stanza"
)

type TransitionTableSuite struct {
	suite.Suite
}

func TestTransitionTableSuite(t *testing.T) {
	suite.Run(t, new(TransitionTableSuite))
}

// TestTotality verifies every reachable state has a row for every
// subscription stanza in both directions, so no input can fall through the
// state machine.
func (s *TransitionTableSuite) TestTotality() {
	subs := []models.Sub{models.SubNone, models.SubTo, models.SubFrom, models.SubBoth}
	dirs := []direction{dirRecv, dirSend}
	types := []stanza.PresenceType{
		stanza.PresenceSubscribe,
		stanza.PresenceSubscribed,
		stanza.PresenceUnsubscribe,
		stanza.PresenceUnsubscribed,
	}
	count := 0
	for _, sub := range subs {
		for _, dir := range dirs {
			for _, typ := range types {
				_, ok := transitions[stateKey{sub, dir, typ}]
				s.True(ok, "missing transition for %s/%d/%s", sub, dir, typ)
				count++
			}
		}
	}
	s.Equal(32, count)
	s.Len(transitions, 32)
}

// TestMutualHandshake walks both peers through the full subscribe/approve
// exchange in each direction and checks the states converge to "both" with
// nothing pending.
func (s *TransitionTableSuite) TestMutualHandshake() {
	alice := &models.Item{Username: "alice", JID: "bob@localhost"}
	bob := &models.Item{Username: "bob", JID: "alice@localhost"}

	step := func(item *models.Item, dir direction, typ stanza.PresenceType) {
		applyTransition(item, dir, typ)
	}

	// alice asks, bob approves
	step(alice, dirSend, stanza.PresenceSubscribe)
	step(bob, dirRecv, stanza.PresenceSubscribe)
	s.Equal(models.AskSubscribe, alice.Ask)
	s.Equal(models.RecvSubscribe, bob.Recv)

	step(bob, dirSend, stanza.PresenceSubscribed)
	step(alice, dirRecv, stanza.PresenceSubscribed)
	s.Equal(models.SubFrom, bob.Sub)
	s.Equal(models.SubTo, alice.Sub)
	s.Equal(models.AskNone, alice.Ask)
	s.Equal(models.RecvNone, bob.Recv)

	// bob asks back, alice approves
	step(bob, dirSend, stanza.PresenceSubscribe)
	step(alice, dirRecv, stanza.PresenceSubscribe)
	step(alice, dirSend, stanza.PresenceSubscribed)
	step(bob, dirRecv, stanza.PresenceSubscribed)

	s.Equal(models.SubBoth, alice.Sub)
	s.Equal(models.SubBoth, bob.Sub)
	s.Equal(models.AskNone, alice.Ask)
	s.Equal(models.AskNone, bob.Ask)
	s.Equal(models.RecvNone, alice.Recv)
	s.Equal(models.RecvNone, bob.Recv)
}

// TestTeardown walks a mutual subscription through a one-sided unsubscribe.
func (s *TransitionTableSuite) TestTeardown() {
	alice := &models.Item{Username: "alice", JID: "bob@localhost", Sub: models.SubBoth}
	bob := &models.Item{Username: "bob", JID: "alice@localhost", Sub: models.SubBoth}

	applyTransition(alice, dirSend, stanza.PresenceUnsubscribe)
	applyTransition(bob, dirRecv, stanza.PresenceUnsubscribe)
	s.Equal(models.SubFrom, alice.Sub)
	s.Equal(models.AskUnsubscribe, alice.Ask)
	s.Equal(models.SubTo, bob.Sub)
	s.Equal(models.RecvUnsubscribe, bob.Recv)

	applyTransition(bob, dirSend, stanza.PresenceUnsubscribed)
	applyTransition(alice, dirRecv, stanza.PresenceUnsubscribed)
	s.Equal(models.SubNone, bob.Sub)
	s.Equal(models.RecvNone, bob.Recv)
	s.Equal(models.SubFrom, alice.Sub)
	s.Equal(models.AskNone, alice.Ask)
}

func (s *TransitionTableSuite) TestApplyReportsChanges() {
	s.Run("no-op rows report no change", func() {
		item := &models.Item{Sub: models.SubNone}
		changed, subChanged := applyTransition(item, dirRecv, stanza.PresenceUnsubscribe)
		s.False(changed)
		s.False(subChanged)
	})

	s.Run("ask-only rows change without touching sub", func() {
		item := &models.Item{Sub: models.SubNone}
		changed, subChanged := applyTransition(item, dirSend, stanza.PresenceSubscribe)
		s.True(changed)
		s.False(subChanged)
		s.Equal(models.AskSubscribe, item.Ask)
	})

	s.Run("idempotent re-application reports no change", func() {
		item := &models.Item{Sub: models.SubTo}
		changed, subChanged := applyTransition(item, dirRecv, stanza.PresenceSubscribed)
		s.False(changed)
		s.False(subChanged)
		s.Equal(models.SubTo, item.Sub)
	})
}
