package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "factory.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUploadingJob(t *testing.T, s *store.Store, storageRoot string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateRenderProfile(ctx, store.RenderProfile{
		Name: "1080p30", VideoW: 1920, VideoH: 1080, FPS: 30,
		VCodecRequired: "h264", AudioSR: 48000, AudioCh: 2, ACodecRequired: "aac",
	}))
	chID, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	relID, err := s.CreateRelease(ctx, store.Release{
		ChannelID: chID, Title: "Midnight Hollow", Description: "d", TagsJSON: `["ambient"]`,
		OriginMetaKey: "key-1",
	}, now)
	require.NoError(t, err)
	jobID, err := s.CreateJob(ctx, relID, lifecycle.StateUploading, lifecycle.StageUpload, 0, now)
	require.NoError(t, err)

	outbox := filepath.Join(storageRoot, "outbox", "job_"+strconv.FormatInt(jobID, 10))
	require.NoError(t, os.MkdirAll(outbox, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outbox, "render.mp4"), []byte("x"), 0o644))

	return jobID
}

func TestRunCycleUploadsAndMovesToWaitApproval(t *testing.T) {
	ctx := context.Background()
	storageRoot := t.TempDir()
	s := newTestStore(t)
	jobID := seedUploadingJob(t, s, storageRoot)

	u := &Uploader{Store: s, Cfg: config.Config{
		StorageRoot:   storageRoot,
		UploadBackend: config.UploadBackendMock,
		JobLockTTLSec: 3600,
	}}

	claimed, err := u.RunCycle(ctx, "worker-1", time.Unix(2000, 0))
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateWaitApproval, job.State)

	upload, err := s.GetYouTubeUpload(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, upload)
	require.Equal(t, "mock-"+strconv.FormatInt(jobID, 10), upload.VideoID)
}

func TestRunCycleIsIdempotentOnAlreadyUploaded(t *testing.T) {
	ctx := context.Background()
	storageRoot := t.TempDir()
	s := newTestStore(t)
	jobID := seedUploadingJob(t, s, storageRoot)

	require.NoError(t, s.SetYouTubeUpload(ctx, store.YouTubeUpload{
		JobID: jobID, VideoID: "already-uploaded", URL: "file://x", Privacy: "private", UploadedAt: 1500,
	}))

	u := &Uploader{Store: s, Cfg: config.Config{StorageRoot: storageRoot, UploadBackend: config.UploadBackendMock, JobLockTTLSec: 3600}}

	claimed, err := u.RunCycle(ctx, "worker-1", time.Unix(2000, 0))
	require.NoError(t, err)
	require.True(t, claimed)

	upload, err := s.GetYouTubeUpload(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, "already-uploaded", upload.VideoID)
}

func TestRunCycleFailsCredentialsTerminalWhenYouTubeBackendUnconfigured(t *testing.T) {
	ctx := context.Background()
	storageRoot := t.TempDir()
	s := newTestStore(t)
	jobID := seedUploadingJob(t, s, storageRoot)

	u := &Uploader{Store: s, Cfg: config.Config{StorageRoot: storageRoot, UploadBackend: config.UploadBackendYouTube, JobLockTTLSec: 3600}}

	claimed, err := u.RunCycle(ctx, "worker-1", time.Unix(2000, 0))
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateUploadFailed, job.State)
}

func TestRunCycleReturnsFalseWhenNothingToClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := &Uploader{Store: s, Cfg: config.Config{StorageRoot: t.TempDir(), UploadBackend: config.UploadBackendMock, JobLockTTLSec: 3600}}

	claimed, err := u.RunCycle(ctx, "worker-1", time.Unix(2000, 0))
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestResolveCachedCredentialsMemoizesAcrossCalls(t *testing.T) {
	tokensDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tokensDir, "darkwood-reverie"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tokensDir, "darkwood-reverie", "token.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tokensDir, "darkwood-reverie", "client_secret.json"), []byte("{}"), 0o644))

	u := &Uploader{Cfg: config.Config{YouTubeTokensDir: tokensDir}}

	first, err := u.resolveCachedCredentials("job-1", "darkwood-reverie")
	require.NoError(t, err)
	require.Equal(t, "channel", first.Source)

	require.NoError(t, os.RemoveAll(tokensDir))

	second, err := u.resolveCachedCredentials("job-1", "darkwood-reverie")
	require.NoError(t, err)
	require.Equal(t, first, second)
}
