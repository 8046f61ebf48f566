package approval

import (
	"context"
	"errors"
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

func seedJob(t *testing.T, s *store.Store, state string) int64 {
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
		ChannelID: chID, Title: "Midnight Hollow", Description: "d", TagsJSON: "[]",
		OriginMetaKey: "key-1",
	}, now)
	require.NoError(t, err)
	jobID, err := s.CreateJob(ctx, relID, state, "APPROVAL", 0, now)
	require.NoError(t, err)
	return jobID
}

func TestApproveTransitionsToApproved(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateWaitApproval)
	svc := &Service{Store: s, Cfg: config.Config{}}

	require.NoError(t, svc.Approve(ctx, jobID, "looks good", time.Unix(2000, 0)))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateApproved, job.State)

	approvals, err := s.ListApprovals(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.Equal(t, "APPROVE", approvals[0].Decision)
}

func TestApproveRejectsWrongState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateRendering)
	svc := &Service{Store: s, Cfg: config.Config{}}

	err := svc.Approve(ctx, jobID, "", time.Unix(2000, 0))
	require.ErrorIs(t, err, ErrConflict)
}

func TestRejectRequiresComment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateWaitApproval)
	svc := &Service{Store: s, Cfg: config.Config{}}

	err := svc.Reject(ctx, jobID, "", time.Unix(2000, 0))
	require.Error(t, err)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateWaitApproval, job.State)
}

func TestCancelDropsMarkerAndTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateRendering)
	storageRoot := t.TempDir()
	svc := &Service{Store: s, Cfg: config.Config{StorageRoot: storageRoot}}

	require.NoError(t, svc.Cancel(ctx, jobID, "user request", time.Unix(2000, 0)))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateCancelled, job.State)
	require.False(t, job.LockedBy.Valid)

	flagPath := filepath.Join(storageRoot, "workspace", "job_"+strconv.FormatInt(jobID, 10), "YouTubeRoot", ".cancel")
	_, statErr := os.Stat(flagPath)
	require.NoError(t, statErr)
}

func TestCancelConflictsOnTerminalJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StatePublished)
	svc := &Service{Store: s, Cfg: config.Config{}}

	err := svc.Cancel(ctx, jobID, "", time.Unix(2000, 0))
	require.ErrorIs(t, err, ErrConflict)
}

func TestMarkPublishedSetsRetentionWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateApproved)
	svc := &Service{Store: s, Cfg: config.Config{}}

	now := time.Unix(5000, 0)
	deleteAt, err := svc.MarkPublished(ctx, jobID, now)
	require.NoError(t, err)
	require.Equal(t, now.Add(config.RetentionWindow), deleteAt)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StatePublished, job.State)
	require.True(t, job.PublishedAt.Valid)
	require.Equal(t, float64(now.Unix())+config.RetentionWindow.Seconds(), job.DeleteMP4At.Float64)
}

func TestMarkPublishedConflictsFromWrongState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	jobID := seedJob(t, s, lifecycle.StateRendering)
	svc := &Service{Store: s, Cfg: config.Config{}}

	_, err := svc.MarkPublished(ctx, jobID, time.Unix(2000, 0))
	require.True(t, errors.Is(err, ErrConflict))
}

func TestRunCleanupCycleDeletesDueMP4AndMarksCleaned(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	storageRoot := t.TempDir()
	cfg := config.Config{StorageRoot: storageRoot}

	jobID := seedJob(t, s, lifecycle.StatePublished)
	now := time.Unix(10_000, 0)
	require.NoError(t, s.MarkPublished(ctx, jobID, time.Unix(1000, 0), -1*time.Second))

	outbox := filepath.Join(storageRoot, "outbox", "job_"+strconv.FormatInt(jobID, 10))
	require.NoError(t, os.MkdirAll(outbox, 0o755))
	mp4 := filepath.Join(outbox, "render.mp4")
	require.NoError(t, os.WriteFile(mp4, []byte("x"), 0o644))

	stats, err := RunCleanupCycle(ctx, s, cfg, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.MP4sDeleted)

	_, statErr := os.Stat(mp4)
	require.True(t, os.IsNotExist(statErr))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateCleaned, job.State)
}

func TestRunCleanupCycleRemovesInactiveWorkspace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	storageRoot := t.TempDir()
	cfg := config.Config{StorageRoot: storageRoot}

	jobID := seedJob(t, s, lifecycle.StateQAFailed)
	ws := filepath.Join(storageRoot, "workspace", "job_"+strconv.FormatInt(jobID, 10))
	require.NoError(t, os.MkdirAll(ws, 0o755))

	stats, err := RunCleanupCycle(ctx, s, cfg, time.Unix(10_000, 0))
	require.NoError(t, err)
	require.Equal(t, 1, stats.WorkspacesRemoved)

	_, statErr := os.Stat(ws)
	require.True(t, os.IsNotExist(statErr))
}

