package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/MindDevastation/factory-vm/log"
)

// YouTubeBackend uploads a render through the real YouTube Data API.
// Credentials are a client secret (OAuth app registration) and a stored
// user token, both resolved per channel by resolveCredentials.
type YouTubeBackend struct {
	ID               string
	ClientSecretPath string
	TokenPath        string
}

func (b YouTubeBackend) service(ctx context.Context) (*youtube.Service, error) {
	secretBytes, err := os.ReadFile(b.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("uploader: read client secret: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secretBytes, youtube.YoutubeUploadScope)
	if err != nil {
		return nil, fmt.Errorf("uploader: parse client secret: %w", err)
	}

	tokBytes, err := os.ReadFile(b.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("uploader: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokBytes, &tok); err != nil {
		return nil, fmt.Errorf("uploader: parse token: %w", err)
	}

	ts := oauthCfg.TokenSource(ctx, &tok)
	httpClient := oauth2.NewClient(ctx, ts)

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("uploader: build youtube service: %w", err)
	}

	if fresh, err := ts.Token(); err == nil && fresh.AccessToken != tok.AccessToken {
		if err := persistToken(b.TokenPath, fresh); err != nil {
			log.LogError(b.ID, "failed to persist refreshed youtube token", err)
		}
	}
	return svc, nil
}

func persistToken(path string, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (b YouTubeBackend) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	svc, err := b.service(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if t != "" {
			tags = append(tags, t)
		}
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        tags,
			CategoryId:  "10",
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "private"},
	}

	f, err := os.Open(req.VideoPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("uploader: open video file: %w", err)
	}
	defer f.Close()

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	resp, err := call.Media(f).Do()
	if err != nil {
		return UploadResult{}, fmt.Errorf("uploader: youtube insert: %w", err)
	}

	return UploadResult{
		VideoID:   resp.Id,
		URL:       "https://www.youtube.com/watch?v=" + resp.Id,
		StudioURL: "https://studio.youtube.com/video/" + resp.Id + "/edit",
	}, nil
}

func (b YouTubeBackend) SetThumbnail(ctx context.Context, videoID, imagePath string) error {
	svc, err := b.service(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("uploader: open thumbnail: %w", err)
	}
	defer f.Close()

	_, err = svc.Thumbnails.Set(videoID).Media(f).Do()
	if err != nil {
		return fmt.Errorf("uploader: set thumbnail: %w", err)
	}
	return nil
}
