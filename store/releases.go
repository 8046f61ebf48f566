package store

import (
	"context"
	"database/sql"
	"time"
)

type Release struct {
	ID            int64
	ChannelID     int64
	Title         string
	Description   string
	TagsJSON      string
	PlannedAt     sql.NullString
	OriginMetaKey string
	CreatedAt     float64
}

func (s *Store) CreateRelease(ctx context.Context, r Release, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO releases(channel_id, title, description, tags_json, planned_at, origin_meta_key, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, r.ChannelID, r.Title, r.Description, r.TagsJSON, r.PlannedAt, r.OriginMetaKey, float64(now.Unix()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanRelease(row interface{ Scan(...interface{}) error }) (Release, error) {
	var r Release
	err := row.Scan(&r.ID, &r.ChannelID, &r.Title, &r.Description, &r.TagsJSON, &r.PlannedAt, &r.OriginMetaKey, &r.CreatedAt)
	return r, err
}

const releaseColumns = "id, channel_id, title, description, tags_json, planned_at, origin_meta_key, created_at"

// GetReleaseByOriginMetaKey is the idempotency check the importer uses: a
// manifest entry already materialized into a release is never re-created.
func (s *Store) GetReleaseByOriginMetaKey(ctx context.Context, key string) (*Release, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+releaseColumns+" FROM releases WHERE origin_meta_key = ?", key)
	r, err := scanRelease(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetRelease(ctx context.Context, id int64) (Release, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+releaseColumns+" FROM releases WHERE id = ?", id)
	return scanRelease(row)
}
