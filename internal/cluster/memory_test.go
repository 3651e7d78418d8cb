package cluster

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MemoryCacheSuite struct {
	suite.Suite
	cache *MemoryCache
}

func TestMemoryCacheSuite(t *testing.T) {
	suite.Run(t, new(MemoryCacheSuite))
}

func (s *MemoryCacheSuite) SetupTest() {
	s.cache = NewMemoryCache()
}

func (s *MemoryCacheSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *MemoryCacheSuite) TestRouteEntries() {
	ctx := context.Background()

	s.Run("put reports whether the key was fresh", func() {
		added, err := s.cache.PutRegistered(ctx, "alice@localhost/desk", Entry{NodeID: "n1"})
		s.Require().NoError(err)
		s.True(added)

		added, err = s.cache.PutRegistered(ctx, "alice@localhost/desk", Entry{NodeID: "n1", Available: true})
		s.Require().NoError(err)
		s.False(added)
	})

	s.Run("put replaces the whole entry", func() {
		_, err := s.cache.PutRegistered(ctx, "alice@localhost/desk", Entry{NodeID: "n1", Available: true})
		s.Require().NoError(err)
		_, err = s.cache.PutRegistered(ctx, "alice@localhost/desk", Entry{NodeID: "n2"})
		s.Require().NoError(err)

		e, ok, err := s.cache.Registered(ctx, "alice@localhost/desk")
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(Entry{NodeID: "n2", Available: false}, e)
	})

	s.Run("registered and anonymous caches are disjoint", func() {
		_, err := s.cache.PutAnonymous(ctx, "guest@localhost/web", Entry{NodeID: "n1"})
		s.Require().NoError(err)

		_, ok, err := s.cache.Registered(ctx, "guest@localhost/web")
		s.Require().NoError(err)
		s.False(ok)
		_, ok, err = s.cache.Anonymous(ctx, "guest@localhost/web")
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("delete reports prior existence", func() {
		_, err := s.cache.PutRegistered(ctx, "alice@localhost/desk", Entry{NodeID: "n1"})
		s.Require().NoError(err)

		existed, err := s.cache.DeleteRegistered(ctx, "alice@localhost/desk")
		s.Require().NoError(err)
		s.True(existed)

		existed, err = s.cache.DeleteRegistered(ctx, "alice@localhost/desk")
		s.Require().NoError(err)
		s.False(existed)
	})
}

func (s *MemoryCacheSuite) TestSessionIndex() {
	ctx := context.Background()

	s.Run("add and list", func() {
		s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/desk"))
		s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/phone"))

		fulls, err := s.cache.Sessions(ctx, "alice@localhost")
		s.Require().NoError(err)
		s.ElementsMatch([]string{"alice@localhost/desk", "alice@localhost/phone"}, fulls)
	})

	s.Run("remove prunes and drops the empty key", func() {
		s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/desk"))
		s.Require().NoError(s.cache.RemoveSession(ctx, "alice@localhost", "alice@localhost/desk"))

		fulls, err := s.cache.Sessions(ctx, "alice@localhost")
		s.Require().NoError(err)
		s.Empty(fulls)
	})

	s.Run("removing from an unknown key is not an error", func() {
		s.Require().NoError(s.cache.RemoveSession(ctx, "nobody@localhost", "nobody@localhost/x"))
	})

	s.Run("drop removes the whole key", func() {
		s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/desk"))
		s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/phone"))
		s.Require().NoError(s.cache.DropSessions(ctx, "alice@localhost"))

		fulls, err := s.cache.Sessions(ctx, "alice@localhost")
		s.Require().NoError(err)
		s.Empty(fulls)
	})
}

// TestConcurrentSessionChurn exercises the per-key locking under parallel
// adds and removes against the same bare address.
func (s *MemoryCacheSuite) TestConcurrentSessionChurn() {
	ctx := context.Background()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			full := "alice@localhost/r" + string(rune('a'+n%26))
			_ = s.cache.AddSession(ctx, "alice@localhost", full)
			_, _ = s.cache.Sessions(ctx, "alice@localhost")
			_ = s.cache.RemoveSession(ctx, "alice@localhost", full)
		}(i)
	}
	wg.Wait()

	fulls, err := s.cache.Sessions(ctx, "alice@localhost")
	s.Require().NoError(err)
	s.Empty(fulls)
}
