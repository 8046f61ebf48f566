// Package store is the durable single-file SQLite store every worker role
// and the approval API coordinate through. No in-process shared memory
// crosses role boundaries; all ordering and mutual exclusion come from
// here.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Config carries the SQLite connection-pool knobs. Mirrors the shape the
// teacher's SQLite store config takes, trimmed to what this store uses.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// Store wraps the *sql.DB with the schema this factory needs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path, applies the
// mandatory PRAGMAs via the DSN so every pooled connection gets them, and
// runs the schema migration.
func Open(path string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers (e.g. track catalog) that
// need raw queries this package doesn't wrap.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	youtube_channel_id TEXT UNIQUE,
	render_profile TEXT NOT NULL,
	autopublish_enabled INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS render_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	video_w INTEGER NOT NULL,
	video_h INTEGER NOT NULL,
	fps REAL NOT NULL,
	vcodec_required TEXT NOT NULL,
	audio_sr INTEGER NOT NULL,
	audio_ch INTEGER NOT NULL,
	acodec_required TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	tags_json TEXT NOT NULL,
	planned_at TEXT,
	origin_meta_key TEXT NOT NULL UNIQUE,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	kind TEXT NOT NULL,
	origin TEXT NOT NULL,
	origin_id TEXT,
	path TEXT,
	name TEXT,
	duration_sec REAL,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id INTEGER NOT NULL REFERENCES releases(id),
	job_type TEXT NOT NULL DEFAULT 'render',
	state TEXT NOT NULL,
	stage TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	attempt INTEGER NOT NULL DEFAULT 0,
	locked_by TEXT,
	locked_at REAL,
	retry_at REAL,
	progress_pct REAL NOT NULL DEFAULT 0.0,
	progress_text TEXT,
	progress_updated_at REAL,
	error_reason TEXT,
	approval_notified_at REAL,
	published_at REAL,
	delete_mp4_at REAL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state_priority ON jobs(state, priority, created_at);

CREATE TABLE IF NOT EXISTS job_inputs (
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	role TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS job_outputs (
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	asset_id INTEGER NOT NULL REFERENCES assets(id),
	role TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_reports (
	job_id INTEGER PRIMARY KEY REFERENCES jobs(id),
	hard_ok INTEGER NOT NULL,
	warnings_json TEXT NOT NULL,
	info_json TEXT NOT NULL,
	duration_expected REAL,
	duration_actual REAL,
	vcodec TEXT,
	acodec TEXT,
	fps REAL,
	width INTEGER,
	height INTEGER,
	sample_rate INTEGER,
	channels INTEGER,
	mean_volume_db REAL,
	max_volume_db REAL,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL REFERENCES jobs(id),
	decision TEXT NOT NULL,
	comment TEXT NOT NULL,
	decided_at REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approvals_job ON approvals(job_id, decided_at);

CREATE TABLE IF NOT EXISTS youtube_uploads (
	job_id INTEGER PRIMARY KEY REFERENCES jobs(id),
	video_id TEXT NOT NULL,
	url TEXT NOT NULL,
	studio_url TEXT NOT NULL,
	privacy TEXT NOT NULL,
	uploaded_at REAL NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
	worker_id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	pid INTEGER NOT NULL,
	hostname TEXT NOT NULL,
	details_json TEXT NOT NULL,
	last_seen REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_worker_heartbeats_last_seen ON worker_heartbeats(last_seen);

CREATE TABLE IF NOT EXISTS ui_job_drafts (
	job_id INTEGER PRIMARY KEY REFERENCES jobs(id),
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	tags_csv TEXT NOT NULL,
	cover_name TEXT,
	cover_ext TEXT,
	background_name TEXT NOT NULL,
	background_ext TEXT NOT NULL,
	audio_ids_text TEXT NOT NULL,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_slug TEXT NOT NULL,
	track_id TEXT NOT NULL,
	origin_file_id TEXT NOT NULL UNIQUE,
	filename TEXT,
	title TEXT,
	artist TEXT,
	duration_sec REAL,
	discovered_at REAL NOT NULL,
	analyzed_at REAL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_channel_track ON tracks(channel_slug, track_id);
`

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
