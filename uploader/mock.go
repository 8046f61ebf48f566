package uploader

import (
	"context"
	"fmt"
)

// MockBackend stands in for YouTube in tests and local runs: it fabricates
// a deterministic video id and a file:// URL instead of performing a real
// network upload.
type MockBackend struct {
	JobID int64
}

func (m MockBackend) Upload(_ context.Context, req UploadRequest) (UploadResult, error) {
	videoID := fmt.Sprintf("mock-%d", m.JobID)
	return UploadResult{
		VideoID: videoID,
		URL:     "file://" + req.VideoPath,
	}, nil
}

func (m MockBackend) SetThumbnail(_ context.Context, _, _ string) error {
	return nil
}
