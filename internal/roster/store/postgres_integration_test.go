//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"courier/internal/roster/models"
	"courier/internal/roster/store"
	"courier/pkg/platform/sentinel"
	"courier/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "roster_items"))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	item := &models.Item{
		Username: "alice",
		JID:      "bob@localhost",
		Name:     "Bob",
		Sub:      models.SubBoth,
		Ask:      models.AskNone,
		Recv:     models.RecvNone,
		Groups:   []string{"friends", "work"},
	}
	s.Require().NoError(s.store.Upsert(ctx, item))

	got, err := s.store.FetchItem(ctx, "alice", "bob@localhost")
	s.Require().NoError(err)
	s.Equal(item.Name, got.Name)
	s.Equal(models.SubBoth, got.Sub)
	s.Equal([]string{"friends", "work"}, got.Groups)
	s.Equal(models.OriginPersisted, got.Origin)
}

func (s *PostgresStoreSuite) TestUpsertReplaces() {
	ctx := context.Background()
	item := &models.Item{Username: "alice", JID: "bob@localhost", Sub: models.SubNone, Ask: models.AskSubscribe}
	s.Require().NoError(s.store.Upsert(ctx, item))

	item.Sub = models.SubTo
	item.Ask = models.AskNone
	s.Require().NoError(s.store.Upsert(ctx, item))

	got, err := s.store.FetchItem(ctx, "alice", "bob@localhost")
	s.Require().NoError(err)
	s.Equal(models.SubTo, got.Sub)
	s.Equal(models.AskNone, got.Ask)
}

func (s *PostgresStoreSuite) TestFetchItems() {
	ctx := context.Background()
	s.Require().NoError(s.store.Upsert(ctx, &models.Item{Username: "alice", JID: "bob@localhost", Sub: models.SubFrom}))
	s.Require().NoError(s.store.Upsert(ctx, &models.Item{Username: "alice", JID: "carol@localhost", Sub: models.SubTo}))
	s.Require().NoError(s.store.Upsert(ctx, &models.Item{Username: "bob", JID: "alice@localhost", Sub: models.SubTo}))

	items, err := s.store.FetchItems(ctx, "alice")
	s.Require().NoError(err)
	s.Len(items, 2)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FetchItem(context.Background(), "alice", "nobody@localhost")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSharedItemsRejected() {
	err := s.store.Upsert(context.Background(), &models.Item{
		Username: "alice",
		JID:      "bob@localhost",
		Origin:   models.OriginSharedGroup,
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Upsert(ctx, &models.Item{Username: "alice", JID: "bob@localhost", Sub: models.SubTo}))
	s.Require().NoError(s.store.Delete(ctx, "alice", "bob@localhost"))

	_, err := s.store.FetchItem(ctx, "alice", "bob@localhost")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
