// Package approval implements the human-driven half of the job
// lifecycle: approve/reject/cancel/mark-published transitions, and the
// scheduled retention cleanup that deletes a PUBLISHED job's MP4 once its
// delete_mp4_at has passed. Grounded on
// original_source/services/factory_api/app.py's approve/reject/cancel/
// mark_published handlers for the transition guards, and
// original_source/services/workers/cleanup.py's cleanup_cycle for the
// sweep order (workspace removal first, then due-MP4 deletion).
package approval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/paths"
	"github.com/MindDevastation/factory-vm/store"
)

// ErrNotFound and ErrConflict let the API layer translate a decision
// outcome into the right HTTP status without approval importing net/http.
var (
	ErrNotFound = fmt.Errorf("job not found")
	ErrConflict = fmt.Errorf("job not in the required state")
)

type Service struct {
	Store *store.Store
	Cfg   config.Config
}

// Approve records an APPROVE decision and moves a WAIT_APPROVAL job to
// APPROVED. Any other current state is a conflict.
func (s *Service) Approve(ctx context.Context, jobID int64, comment string, now time.Time) error {
	job, err := s.requireState(ctx, jobID, lifecycle.StateWaitApproval)
	if err != nil {
		return err
	}
	if comment == "" {
		comment = "approved"
	}
	if _, err := s.Store.SetApproval(ctx, jobID, "APPROVE", comment, float64(now.Unix())); err != nil {
		return fmt.Errorf("approval: record decision: %w", err)
	}
	if err := s.Store.UpdateState(ctx, jobID, lifecycle.StateApproved, "APPROVAL", now); err != nil {
		return fmt.Errorf("approval: transition: %w", err)
	}
	log.Log(fmt.Sprintf("job-%d", job.ID), "job approved", "comment", comment)
	return nil
}

// Reject records a REJECT decision and moves a WAIT_APPROVAL job to the
// terminal REJECTED state. Comment is required: rejection without a
// reason leaves nothing for a human to act on later.
func (s *Service) Reject(ctx context.Context, jobID int64, comment string, now time.Time) error {
	if comment == "" {
		return fmt.Errorf("approval: reject requires a comment")
	}
	job, err := s.requireState(ctx, jobID, lifecycle.StateWaitApproval)
	if err != nil {
		return err
	}
	if _, err := s.Store.SetApproval(ctx, jobID, "REJECT", comment, float64(now.Unix())); err != nil {
		return fmt.Errorf("approval: record decision: %w", err)
	}
	if err := s.Store.UpdateState(ctx, jobID, lifecycle.StateRejected, "APPROVAL", now); err != nil {
		return fmt.Errorf("approval: transition: %w", err)
	}
	log.Log(fmt.Sprintf("job-%d", job.ID), "job rejected", "comment", comment)
	return nil
}

// Cancel forces any non-terminal job to CANCELLED. It drops a
// best-effort cancellation marker into the job's workspace so a worker
// holding the job's lock observes the request within one polling cycle,
// per SPEC_FULL.md's cooperative cancellation model.
func (s *Service) Cancel(ctx context.Context, jobID int64, reason string, now time.Time) error {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if lifecycle.IsTerminal(job.State) {
		return fmt.Errorf("%w: already %s", ErrConflict, job.State)
	}
	if reason == "" {
		reason = "cancelled by user"
	}

	flag := paths.CancelFlagPath(s.Cfg.StorageRoot, jobID)
	if err := os.MkdirAll(filepath.Dir(flag), 0o755); err == nil {
		_ = os.WriteFile(flag, []byte(reason), 0o644)
	}

	if err := s.Store.Cancel(ctx, jobID, reason, now); err != nil {
		return fmt.Errorf("approval: cancel: %w", err)
	}
	log.Log(fmt.Sprintf("job-%d", job.ID), "job cancelled", "reason", reason)
	return nil
}

// MarkPublished transitions an APPROVED or WAIT_APPROVAL job to
// PUBLISHED, recording published_at = now and
// delete_mp4_at = now + RetentionWindow (fixed 48h, per SPEC_FULL.md's
// resolved Open Question).
func (s *Service) MarkPublished(ctx context.Context, jobID int64, now time.Time) (time.Time, error) {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if job.State != lifecycle.StateApproved && job.State != lifecycle.StateWaitApproval {
		return time.Time{}, fmt.Errorf("%w: %s", ErrConflict, job.State)
	}
	if err := s.Store.MarkPublished(ctx, jobID, now, config.RetentionWindow); err != nil {
		return time.Time{}, fmt.Errorf("approval: mark published: %w", err)
	}
	deleteAt := now.Add(config.RetentionWindow)
	log.Log(fmt.Sprintf("job-%d", job.ID), "job published", "delete_mp4_at", deleteAt)
	return deleteAt, nil
}

func (s *Service) requireState(ctx context.Context, jobID int64, want string) (store.Job, error) {
	job, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return store.Job{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if job.State != want {
		return store.Job{}, fmt.Errorf("%w: not %s (is %s)", ErrConflict, want, job.State)
	}
	return job, nil
}

// CleanupStats summarizes one cleanup sweep.
type CleanupStats struct {
	WorkspacesRemoved int
	MP4sDeleted       int
}

// RunCleanupCycle removes the workspace directory of every job that is
// not currently FETCHING_INPUTS/RENDERING, then deletes the outbox MP4
// and preview of every PUBLISHED job whose delete_mp4_at has passed and
// transitions it to CLEANED. Upload records, QA reports, and logs are
// retained: only the rendered artifact is destroyed at retention.
func RunCleanupCycle(ctx context.Context, s *store.Store, cfg config.Config, now time.Time) (CleanupStats, error) {
	var stats CleanupStats

	inactive, err := s.ListInactiveWorkspaceJobs(ctx)
	if err != nil {
		return stats, fmt.Errorf("cleanup: list inactive: %w", err)
	}
	for _, jobID := range inactive {
		ws := paths.WorkspaceDir(cfg.StorageRoot, jobID)
		if _, err := os.Stat(ws); err == nil {
			if err := os.RemoveAll(ws); err != nil {
				log.LogError(fmt.Sprintf("job-%d", jobID), "cleanup: remove workspace failed", err)
				continue
			}
			stats.WorkspacesRemoved++
		}
	}

	due, err := s.ListPublishedDue(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("cleanup: list published due: %w", err)
	}
	for _, job := range due {
		mp4 := filepath.Join(paths.OutboxDir(cfg.StorageRoot, job.ID), "render.mp4")
		if _, err := os.Stat(mp4); err == nil {
			_ = os.Remove(mp4)
		}
		preview := paths.PreviewPath(cfg.StorageRoot, job.ID)
		if _, err := os.Stat(preview); err == nil {
			_ = os.Remove(preview)
		}
		if err := s.MarkCleaned(ctx, job.ID, now); err != nil {
			log.LogError(fmt.Sprintf("job-%d", job.ID), "cleanup: mark cleaned failed", err)
			continue
		}
		stats.MP4sDeleted++
		log.Log(fmt.Sprintf("job-%d", job.ID), "mp4 deleted at retention")
	}

	return stats, nil
}
