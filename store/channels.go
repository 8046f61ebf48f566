package store

import "context"

type Channel struct {
	ID                int64
	Slug              string
	DisplayName       string
	YouTubeChannelID  string
	RenderProfile     string
	AutopublishEnabled bool
}

func (s *Store) CreateChannel(ctx context.Context, c Channel) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO channels(slug, display_name, youtube_channel_id, render_profile, autopublish_enabled)
		VALUES(?, ?, NULLIF(?, ''), ?, ?)
	`, c.Slug, c.DisplayName, c.YouTubeChannelID, c.RenderProfile, c.AutopublishEnabled)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetChannelBySlug(ctx context.Context, slug string) (*Channel, error) {
	return s.scanChannel(ctx, "slug = ?", slug)
}

func (s *Store) GetChannelByID(ctx context.Context, id int64) (*Channel, error) {
	return s.scanChannel(ctx, "id = ?", id)
}

func (s *Store) scanChannel(ctx context.Context, where string, arg interface{}) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, display_name, COALESCE(youtube_channel_id, ''), render_profile, autopublish_enabled
		FROM channels WHERE `+where, arg)
	var c Channel
	if err := row.Scan(&c.ID, &c.Slug, &c.DisplayName, &c.YouTubeChannelID, &c.RenderProfile, &c.AutopublishEnabled); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChannels returns every configured tenant, the set the Importer and
// Track Catalog worker sweep each cycle.
func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, display_name, COALESCE(youtube_channel_id, ''), render_profile, autopublish_enabled
		FROM channels ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Slug, &c.DisplayName, &c.YouTubeChannelID, &c.RenderProfile, &c.AutopublishEnabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type RenderProfile struct {
	Name           string
	VideoW, VideoH int
	FPS            float64
	VCodecRequired string
	AudioSR        int
	AudioCh        int
	ACodecRequired string
}

func (s *Store) GetRenderProfile(ctx context.Context, name string) (*RenderProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, video_w, video_h, fps, vcodec_required, audio_sr, audio_ch, acodec_required
		FROM render_profiles WHERE name = ?
	`, name)
	var p RenderProfile
	if err := row.Scan(&p.Name, &p.VideoW, &p.VideoH, &p.FPS, &p.VCodecRequired, &p.AudioSR, &p.AudioCh, &p.ACodecRequired); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateRenderProfile(ctx context.Context, p RenderProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO render_profiles(name, video_w, video_h, fps, vcodec_required, audio_sr, audio_ch, acodec_required)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			video_w=excluded.video_w, video_h=excluded.video_h, fps=excluded.fps,
			vcodec_required=excluded.vcodec_required, audio_sr=excluded.audio_sr,
			audio_ch=excluded.audio_ch, acodec_required=excluded.acodec_required
	`, p.Name, p.VideoW, p.VideoH, p.FPS, p.VCodecRequired, p.AudioSR, p.AudioCh, p.ACodecRequired)
	return err
}
