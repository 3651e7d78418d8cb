package store

import (
	"context"
	"fmt"
	"sync"

	"courier/internal/roster/models"
	"courier/pkg/platform/sentinel"
)

// Memory is the in-memory Store. It favors clarity over performance and is
// the default for single-node deployments and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[string]*models.Item // username -> peer -> item
}

// NewMemory returns an empty in-memory roster store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]map[string]*models.Item)}
}

func (s *Memory) FetchItems(_ context.Context, username string) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := s.items[username]
	out := make([]*models.Item, 0, len(roster))
	for _, item := range roster {
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Memory) FetchItem(_ context.Context, username, peer string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[username][peer]; ok {
		cp := *item
		return &cp, nil
	}
	return nil, fmt.Errorf("roster item %s/%s: %w", username, peer, sentinel.ErrNotFound)
}

func (s *Memory) Upsert(_ context.Context, item *models.Item) error {
	if item.Shared() {
		return fmt.Errorf("persist shared-group roster item %s/%s: %w", item.Username, item.JID, sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.items[item.Username]
	if !ok {
		roster = make(map[string]*models.Item)
		s.items[item.Username] = roster
	}
	cp := *item
	roster[item.JID] = &cp
	return nil
}

func (s *Memory) Delete(_ context.Context, username, peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.items[username]
	if !ok {
		return nil
	}
	delete(roster, peer)
	if len(roster) == 0 {
		delete(s.items, username)
	}
	return nil
}
