// Package store persists roster items. Stores are interface-driven so the
// subscription engine stays testable and persistence can move between
// in-memory and PostgreSQL without rewiring protocol code.
package store

import (
	"context"

	"courier/internal/roster/models"
)

// Store is the roster persistence contract. FetchItem returns
// sentinel.ErrNotFound (possibly wrapped) when the owner has no item for the
// peer. Upsert rejects shared-group items: those are reconstructed on demand
// and must never reach durable storage.
type Store interface {
	FetchItems(ctx context.Context, username string) ([]*models.Item, error)
	FetchItem(ctx context.Context, username, peer string) (*models.Item, error)
	Upsert(ctx context.Context, item *models.Item) error
	Delete(ctx context.Context, username, peer string) error
}
