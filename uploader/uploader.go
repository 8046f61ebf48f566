// Package uploader is the worker role that pushes a QA-passed render to
// its destination platform: YouTube in production, or a synthetic mock in
// tests and local runs. Grounded on qa.Gate's claim/process decomposition
// and on original_source/services/workers/uploader.py's exact ordering of
// idempotency check, mp4 existence check, credential resolution, and
// thumbnail best-effort.
package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MindDevastation/factory-vm/cache"
	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/metrics"
	"github.com/MindDevastation/factory-vm/paths"
	"github.com/MindDevastation/factory-vm/store"
)

type Uploader struct {
	Store   *store.Store
	Cfg     config.Config
	Metrics *metrics.Metrics

	credentials *cache.Cache[resolvedCredentials]
	credOnce    sync.Once
}

// credCache lazily constructs the uploader's credential cache: Uploader
// values are often built as struct literals, so there is no constructor
// to do this in.
func (u *Uploader) credCache() *cache.Cache[resolvedCredentials] {
	u.credOnce.Do(func() {
		u.credentials = cache.New[resolvedCredentials]()
	})
	return u.credentials
}

func (u *Uploader) stageConfig() lifecycle.StageConfig {
	return lifecycle.StageConfig{
		MaxAttempts:   u.Cfg.MaxUploadAttempts,
		Backoff:       time.Duration(u.Cfg.RetryBackoffSec) * time.Second,
		RetryState:    lifecycle.StateUploading,
		RetryStage:    lifecycle.StageUpload,
		TerminalState: lifecycle.StateUploadFailed,
	}
}

// RunCycle claims and processes at most one UPLOADING job.
func (u *Uploader) RunCycle(ctx context.Context, workerID string, now time.Time) (bool, error) {
	leaseTTL := time.Duration(u.Cfg.JobLockTTLSec) * time.Second
	jobID, ok, err := u.Store.Claim(ctx, lifecycle.StateUploading, workerID, leaseTTL, now)
	if err != nil {
		return false, fmt.Errorf("uploader: claim: %w", err)
	}
	if !ok {
		return false, nil
	}
	if u.Metrics != nil {
		u.Metrics.StageClaimed.WithLabelValues(lifecycle.StageUpload).Inc()
	}

	start := time.Now()
	err = u.process(ctx, jobID, workerID, now)
	if u.Metrics != nil {
		u.Metrics.UploadDurationSec.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.LogError(fmt.Sprintf("job-%d", jobID), "uploader cycle ended with error", err)
	}
	return true, nil
}

func (u *Uploader) process(ctx context.Context, jobID int64, workerID string, now time.Time) error {
	cfg := u.stageConfig()
	id := fmt.Sprintf("job-%d", jobID)

	job, err := u.Store.GetJob(ctx, jobID)
	if err != nil {
		return u.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load job: "+err.Error()), now)
	}
	if job.State == lifecycle.StateCancelled {
		return u.Store.ReleaseLock(ctx, jobID, workerID, now)
	}
	if _, err := os.Stat(paths.CancelFlagPath(u.Cfg.StorageRoot, jobID)); err == nil {
		if err := u.Store.Cancel(ctx, jobID, "cancelled by user", now); err != nil {
			return fmt.Errorf("uploader: cancel: %w", err)
		}
		return u.Store.ReleaseLock(ctx, jobID, workerID, now)
	}

	// Idempotency: a previous attempt that crashed after recording the
	// upload but before clearing retry/unlocking must not re-upload.
	if existing, err := u.Store.GetYouTubeUpload(ctx, jobID); err == nil && existing != nil && existing.VideoID != "" {
		return u.finish(ctx, jobID, "already uploaded (private)", now)
	}

	release, err := u.Store.GetRelease(ctx, job.ReleaseID)
	if err != nil {
		return u.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load release: "+err.Error()), now)
	}
	channel, err := u.Store.GetChannelByID(ctx, release.ChannelID)
	if err != nil {
		return u.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load channel: "+err.Error()), now)
	}

	mp4Path := filepath.Join(paths.OutboxDir(u.Cfg.StorageRoot, jobID), "render.mp4")
	if _, err := os.Stat(mp4Path); err != nil {
		return u.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("missing mp4"), now)
	}

	var tags []string
	_ = json.Unmarshal([]byte(release.TagsJSON), &tags)

	var backend Backend
	if u.Cfg.UploadBackend == config.UploadBackendMock {
		backend = MockBackend{JobID: jobID}
	} else {
		creds, err := u.resolveCachedCredentials(id, channel.Slug)
		if err != nil {
			return u.failCredentials(ctx, jobID, err, now)
		}
		backend = YouTubeBackend{ID: id, ClientSecretPath: creds.ClientSecretPath, TokenPath: creds.TokenPath}
	}

	_ = u.Store.UpdateProgress(ctx, jobID, 0, "uploading", now)

	result, err := backend.Upload(ctx, UploadRequest{
		VideoPath:   mp4Path,
		Title:       release.Title,
		Description: release.Description,
		Tags:        tags,
	})
	if err != nil {
		_ = u.Store.SetYouTubeError(ctx, jobID, err.Error(), float64(now.Unix()))
		return u.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith(err.Error()), now)
	}

	if cover := firstCoverFile(paths.OutboxDir(u.Cfg.StorageRoot, jobID)); cover != "" {
		if err := backend.SetThumbnail(ctx, result.VideoID, cover); err != nil {
			log.LogError(id, "set thumbnail failed, proceeding without it", err)
		}
	}

	if err := u.Store.SetYouTubeUpload(ctx, store.YouTubeUpload{
		JobID:      jobID,
		VideoID:    result.VideoID,
		URL:        result.URL,
		StudioURL:  result.StudioURL,
		Privacy:    "private",
		UploadedAt: float64(now.Unix()),
	}); err != nil {
		return fmt.Errorf("uploader: record upload: %w", err)
	}

	return u.finish(ctx, jobID, "uploaded (private)", now)
}

// resolveCachedCredentials avoids re-statting a channel's token directory
// on every retry of the same job: once resolved, a channel's credential
// paths are reused for the life of the Uploader; nothing evicts them.
func (u *Uploader) resolveCachedCredentials(id, channelSlug string) (resolvedCredentials, error) {
	if creds, ok := u.credCache().Get(channelSlug); ok {
		return creds, nil
	}
	creds, err := resolveCredentials(u.Cfg, channelSlug)
	if err != nil {
		return resolvedCredentials{}, err
	}
	log.Log(id, "resolved youtube credentials", "channel_slug", channelSlug, "source", creds.Source)
	u.credCache().Store(channelSlug, creds)
	return creds, nil
}

func (u *Uploader) finish(ctx context.Context, jobID int64, progressText string, now time.Time) error {
	_ = u.Store.UpdateProgress(ctx, jobID, 100, progressText, now)
	_ = u.Store.ClearRetry(ctx, jobID, now)
	if err := u.Store.UpdateStateAndUnlock(ctx, jobID, lifecycle.StateWaitApproval, lifecycle.StageUpload, now); err != nil {
		return fmt.Errorf("uploader: transition to wait_approval: %w", err)
	}
	return nil
}

// failCredentials routes a credential resolution failure straight to
// UPLOAD_FAILED: a missing token file does not improve by retrying the
// same channel on the same schedule.
func (u *Uploader) failCredentials(ctx context.Context, jobID int64, err error, now time.Time) error {
	_ = u.Store.SetYouTubeError(ctx, jobID, err.Error(), float64(now.Unix()))
	if _, err2 := u.Store.IncrementAttempt(ctx, jobID, now); err2 != nil {
		return fmt.Errorf("uploader: increment attempt: %w", err2)
	}
	if err3 := u.Store.FailTerminal(ctx, jobID, lifecycle.StateUploadFailed, err.Error(), now); err3 != nil {
		return fmt.Errorf("uploader: fail terminal: %w", err3)
	}
	if u.Metrics != nil {
		u.Metrics.StageTerminal.WithLabelValues(lifecycle.StageUpload).Inc()
	}
	return fmt.Errorf("uploader: %w", err)
}

func (u *Uploader) applyOutcome(ctx context.Context, jobID int64, cfg lifecycle.StageConfig, outcome lifecycle.Outcome, now time.Time) error {
	if err := lifecycle.Apply(ctx, u.Store, jobID, cfg, outcome, now); err != nil {
		return fmt.Errorf("uploader: apply outcome: %w", err)
	}
	if u.Metrics != nil {
		landedTerminal := outcome.IsTerminal()
		if outcome.IsRetry() {
			if j, err := u.Store.GetJob(ctx, jobID); err == nil && j.State == cfg.TerminalState {
				landedTerminal = true
			}
		}
		if landedTerminal {
			u.Metrics.StageTerminal.WithLabelValues(lifecycle.StageUpload).Inc()
		} else {
			u.Metrics.StageRetried.WithLabelValues(lifecycle.StageUpload).Inc()
		}
	}
	return fmt.Errorf("uploader: %s", outcome.Reason())
}

func firstCoverFile(outboxDir string) string {
	matches, err := filepath.Glob(filepath.Join(outboxDir, "cover", "*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
