package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MindDevastation/factory-vm/store"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "factory.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRenderingJob(t *testing.T, s *store.Store, lockedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateRenderProfile(ctx, store.RenderProfile{
		Name: "standard", VideoW: 1920, VideoH: 1080, FPS: 30,
		VCodecRequired: "h264", AudioSR: 48000, AudioCh: 2, ACodecRequired: "aac",
	}))
	chanID, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "standard"})
	require.NoError(t, err)
	relID, err := s.CreateRelease(ctx, store.Release{
		ChannelID: chanID, Title: "t", Description: "d", TagsJSON: "[]", OriginMetaKey: "m1",
	}, lockedAt)
	require.NoError(t, err)
	jobID, err := s.CreateJob(ctx, relID, StateRendering, StageRender, 0, lockedAt)
	require.NoError(t, err)
	claimedID, ok, err := s.Claim(ctx, StateRendering, "orchestrator-1", 0, lockedAt)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, jobID, claimedID)
	return jobID
}

var renderCfg = StageConfig{
	MaxAttempts:   3,
	Backoff:       time.Second,
	RetryState:    StateReadyForRender,
	RetryStage:    StageRender,
	TerminalState: StateRenderFailed,
}

func TestReclaimStaleReturnsJobToReadyBeforeMaxAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(2_000_000, 0)
	staleSince := now.Add(-999999 * time.Second)

	jobID := seedRenderingJob(t, s, staleSince)

	n, err := ReclaimStale(ctx, s, renderCfg, time.Second, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateReadyForRender, job.State)
	require.Equal(t, 1, job.Attempt)
	require.False(t, job.LockedBy.Valid)
}

func TestReclaimStaleMarksTerminalAtMaxAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(2_000_000, 0)
	staleSince := now.Add(-999999 * time.Second)

	jobID := seedRenderingJob(t, s, staleSince)
	// Pre-bump attempt to 9 so a single reclaim crosses MaxAttempts=3.
	for i := 0; i < 9; i++ {
		_, err := s.IncrementAttempt(ctx, jobID, now)
		require.NoError(t, err)
	}

	_, err := ReclaimStale(ctx, s, renderCfg, time.Second, now)
	require.NoError(t, err)

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateRenderFailed, job.State)
	require.False(t, job.RetryAt.Valid)
	require.False(t, job.LockedBy.Valid)
}

func TestApplyOKIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(100, 0)
	jobID := seedRenderingJob(t, s, now)

	require.NoError(t, Apply(ctx, s, jobID, renderCfg, OK(), now))
	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateRendering, job.State)
}

func TestApplyCancelledIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(100, 0)
	jobID := seedRenderingJob(t, s, now)

	require.NoError(t, Apply(ctx, s, jobID, renderCfg, Cancelled(), now))
	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateRendering, job.State) // Apply never mutates on Cancelled; caller already called store.Cancel
}

func TestApplyTerminalOutcomeSkipsRetryRegardlessOfAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(100, 0)
	jobID := seedRenderingJob(t, s, now)

	require.NoError(t, Apply(ctx, s, jobID, renderCfg, FailTerminal("FATAL_IMAGE_INVALID: cover.png"), now))
	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateRenderFailed, job.State)
	require.Equal(t, 1, job.Attempt)
}

func TestCancelMonotonicity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(100, 0)
	jobID := seedRenderingJob(t, s, now)

	require.NoError(t, s.Cancel(ctx, jobID, "operator requested", now))
	// A late update from a worker that lost its lease must not resurrect it.
	require.NoError(t, s.UpdateState(ctx, jobID, StateQARunning, StageQA, now.Add(time.Second)))

	job, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, job.State)
}
