package store

import (
	"context"
	"database/sql"
)

// Track is one entry in a channel's audio catalog, discovered by the track
// catalog component and optionally enriched by later analysis.
type Track struct {
	ID           int64
	ChannelSlug  string
	TrackID      string
	OriginFileID string
	Filename     sql.NullString
	Title        sql.NullString
	Artist       sql.NullString
	DurationSec  sql.NullFloat64
	DiscoveredAt float64
	AnalyzedAt   sql.NullFloat64
}

// UpsertTrack is keyed on origin_file_id so a rediscovered file never
// creates a duplicate catalog entry.
func (s *Store) UpsertTrack(ctx context.Context, t Track) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks(channel_slug, track_id, origin_file_id, filename, title, artist, duration_sec, discovered_at, analyzed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin_file_id) DO UPDATE SET
			filename=excluded.filename, title=excluded.title, artist=excluded.artist,
			duration_sec=excluded.duration_sec, analyzed_at=excluded.analyzed_at
	`, t.ChannelSlug, t.TrackID, t.OriginFileID, t.Filename, t.Title, t.Artist, t.DurationSec, t.DiscoveredAt, t.AnalyzedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListTracksByChannel(ctx context.Context, channelSlug string) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_slug, track_id, origin_file_id, filename, title, artist, duration_sec, discovered_at, analyzed_at
		FROM tracks WHERE channel_slug = ? ORDER BY discovered_at ASC
	`, channelSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.ChannelSlug, &t.TrackID, &t.OriginFileID, &t.Filename, &t.Title,
			&t.Artist, &t.DurationSec, &t.DiscoveredAt, &t.AnalyzedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTrackByOriginFileID(ctx context.Context, originFileID string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_slug, track_id, origin_file_id, filename, title, artist, duration_sec, discovered_at, analyzed_at
		FROM tracks WHERE origin_file_id = ?
	`, originFileID)
	var t Track
	err := row.Scan(&t.ID, &t.ChannelSlug, &t.TrackID, &t.OriginFileID, &t.Filename, &t.Title,
		&t.Artist, &t.DurationSec, &t.DiscoveredAt, &t.AnalyzedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
