package store

import (
	"context"
	"database/sql"
)

type YouTubeUpload struct {
	JobID      int64
	VideoID    string
	URL        string
	StudioURL  string
	Privacy    string
	UploadedAt float64
	Error      sql.NullString
}

func (s *Store) SetYouTubeUpload(ctx context.Context, u YouTubeUpload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO youtube_uploads(job_id, video_id, url, studio_url, privacy, uploaded_at, error)
		VALUES(?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(job_id) DO UPDATE SET
			video_id=excluded.video_id, url=excluded.url, studio_url=excluded.studio_url,
			privacy=excluded.privacy, uploaded_at=excluded.uploaded_at, error=NULL
	`, u.JobID, u.VideoID, u.URL, u.StudioURL, u.Privacy, u.UploadedAt)
	return err
}

func (s *Store) SetYouTubeError(ctx context.Context, jobID int64, errMsg string, now float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO youtube_uploads(job_id, video_id, url, studio_url, privacy, uploaded_at, error)
		VALUES(?, '', '', '', '', ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET error=excluded.error, uploaded_at=excluded.uploaded_at
	`, jobID, now, errMsg)
	return err
}

func (s *Store) GetYouTubeUpload(ctx context.Context, jobID int64) (*YouTubeUpload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, video_id, url, studio_url, privacy, uploaded_at, error
		FROM youtube_uploads WHERE job_id = ?
	`, jobID)
	var u YouTubeUpload
	err := row.Scan(&u.JobID, &u.VideoID, &u.URL, &u.StudioURL, &u.Privacy, &u.UploadedAt, &u.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
