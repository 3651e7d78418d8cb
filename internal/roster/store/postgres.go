package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"courier/internal/roster/models"
	"courier/pkg/platform/sentinel"
)

// Postgres persists roster items in PostgreSQL. Connect with the pgx stdlib
// driver; the store only assumes database/sql.
//
// Schema:
//
//	CREATE TABLE roster_items (
//	    username TEXT NOT NULL,
//	    jid      TEXT NOT NULL,
//	    name     TEXT NOT NULL DEFAULT '',
//	    sub      SMALLINT NOT NULL,
//	    ask      SMALLINT NOT NULL,
//	    recv     SMALLINT NOT NULL,
//	    groups   JSONB NOT NULL DEFAULT '[]',
//	    PRIMARY KEY (username, jid)
//	);
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed roster store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) FetchItems(ctx context.Context, username string) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, jid, name, sub, ask, recv, groups FROM roster_items WHERE username = $1`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch roster for %s: %w", username, err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan roster item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster for %s: %w", username, err)
	}
	return items, nil
}

func (s *Postgres) FetchItem(ctx context.Context, username, peer string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, jid, name, sub, ask, recv, groups FROM roster_items WHERE username = $1 AND jid = $2`,
		username, peer,
	)
	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("roster item %s/%s: %w", username, peer, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch roster item %s/%s: %w", username, peer, err)
	}
	return item, nil
}

func (s *Postgres) Upsert(ctx context.Context, item *models.Item) error {
	if item.Shared() {
		return fmt.Errorf("persist shared-group roster item %s/%s: %w", item.Username, item.JID, sentinel.ErrInvalidState)
	}
	groups, err := json.Marshal(item.Groups)
	if err != nil {
		return fmt.Errorf("encode roster groups: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roster_items (username, jid, name, sub, ask, recv, groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (username, jid) DO UPDATE SET
			name = EXCLUDED.name,
			sub = EXCLUDED.sub,
			ask = EXCLUDED.ask,
			recv = EXCLUDED.recv,
			groups = EXCLUDED.groups
	`, item.Username, item.JID, item.Name, item.Sub, item.Ask, item.Recv, groups)
	if err != nil {
		return fmt.Errorf("upsert roster item %s/%s: %w", item.Username, item.JID, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, username, peer string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM roster_items WHERE username = $1 AND jid = $2`,
		username, peer,
	)
	if err != nil {
		return fmt.Errorf("delete roster item %s/%s: %w", username, peer, err)
	}
	return nil
}

func scanItem(scan func(dest ...any) error) (*models.Item, error) {
	var (
		item   models.Item
		groups []byte
	)
	if err := scan(&item.Username, &item.JID, &item.Name, &item.Sub, &item.Ask, &item.Recv, &groups); err != nil {
		return nil, err
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &item.Groups); err != nil {
			return nil, fmt.Errorf("decode roster groups: %w", err)
		}
	}
	item.Origin = models.OriginPersisted
	return &item, nil
}
