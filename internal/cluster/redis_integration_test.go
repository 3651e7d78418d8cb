//go:build integration

package cluster_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"mellium.im/xmpp/jid"

	"courier/internal/cluster"
	"courier/internal/stanza"
	"courier/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cluster.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = cluster.NewRedisCache(s.redis.Client, cluster.WithTimeout(5*time.Second))
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestRouteEntries() {
	ctx := context.Background()

	added, err := s.cache.PutRegistered(ctx, "alice@localhost/desk", cluster.Entry{NodeID: "n1"})
	s.Require().NoError(err)
	s.True(added)

	added, err = s.cache.PutRegistered(ctx, "alice@localhost/desk", cluster.Entry{NodeID: "n1", Available: true})
	s.Require().NoError(err)
	s.False(added, "rewriting an existing key is not an add")

	e, ok, err := s.cache.Registered(ctx, "alice@localhost/desk")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(cluster.Entry{NodeID: "n1", Available: true}, e)

	_, ok, err = s.cache.Anonymous(ctx, "alice@localhost/desk")
	s.Require().NoError(err)
	s.False(ok, "caches must stay disjoint")

	existed, err := s.cache.DeleteRegistered(ctx, "alice@localhost/desk")
	s.Require().NoError(err)
	s.True(existed)

	_, ok, err = s.cache.Registered(ctx, "alice@localhost/desk")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestSessionIndex() {
	ctx := context.Background()

	s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/desk"))
	s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/phone"))

	fulls, err := s.cache.Sessions(ctx, "alice@localhost")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"alice@localhost/desk", "alice@localhost/phone"}, fulls)

	s.Require().NoError(s.cache.RemoveSession(ctx, "alice@localhost", "alice@localhost/desk"))
	fulls, err = s.cache.Sessions(ctx, "alice@localhost")
	s.Require().NoError(err)
	s.Equal([]string{"alice@localhost/phone"}, fulls)

	s.Require().NoError(s.cache.RemoveSession(ctx, "alice@localhost", "alice@localhost/phone"))
	exists, err := s.redis.Client.Exists(ctx, "courier:sessions:alice@localhost").Result()
	s.Require().NoError(err)
	s.Zero(exists, "emptied session set must be dropped entirely")

	s.Require().NoError(s.cache.AddSession(ctx, "alice@localhost", "alice@localhost/desk"))
	s.Require().NoError(s.cache.DropSessions(ctx, "alice@localhost"))
	fulls, err = s.cache.Sessions(ctx, "alice@localhost")
	s.Require().NoError(err)
	s.Empty(fulls)
}

type RedisRouterSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisRouterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisRouterSuite))
}

func (s *RedisRouterSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisRouterSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisRouterSuite) TestNodeToNodeForwarding() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sender := cluster.NewRedisRouter(s.redis.Client, "n1")
	receiver := cluster.NewRedisRouter(s.redis.Client, "n2")

	got := make(chan stanza.Stanza, 1)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() {
		done <- receiver.Run(runCtx, func(_ context.Context, to jid.JID, st stanza.Stanza) {
			s.Equal("alice@localhost/desk", to.String())
			got <- st
		})
	}()

	// The subscription needs a moment to be live before the publish.
	time.Sleep(500 * time.Millisecond)

	msg := &stanza.Message{Type: stanza.MessageChat, Body: "hello"}
	msg.SetFrom(jid.MustParse("bob@localhost/phone"))
	msg.SetTo(jid.MustParse("alice@localhost/desk"))
	delivered := sender.RoutePacket(ctx, "n2", msg.To(), msg)
	s.True(delivered)

	select {
	case st := <-got:
		received, ok := st.(*stanza.Message)
		s.Require().True(ok)
		s.Equal("hello", received.Body)
		s.Equal("bob@localhost/phone", received.From().String())
	case <-ctx.Done():
		s.Fail("stanza did not arrive over the cluster bus")
	}

	stop()
	s.Require().ErrorIs(<-done, context.Canceled)
}
