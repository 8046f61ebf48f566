// Package orchestrator is the richest worker role in the factory: it
// stages a job's inputs into a scratch workspace, spawns the external
// renderer, parses its progress, watches its output for stalls, polls for
// cancellation, and on success produces the outbox MP4 and its approval
// preview. Grounded on the teacher's subprocess-plus-goroutine patterns
// (balancer.BalancerImpl.Start's errgroup-managed exec+watch pair) but
// rebuilt around a single owner goroutine that selects over two producer
// channels -- a stdout line reader and a 1s ticker -- so no state is
// shared across goroutines without a channel carrying it.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/metrics"
	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/paths"
	"github.com/MindDevastation/factory-vm/progress"
	"github.com/MindDevastation/factory-vm/store"
	"github.com/MindDevastation/factory-vm/subprocess"
	"github.com/MindDevastation/factory-vm/watchdog"
)

const (
	roleTrack      = "TRACK"
	roleBackground = "BACKGROUND"
	roleCover      = "COVER"
)

type Orchestrator struct {
	Store   *store.Store
	Origin  origin.Backend
	Cfg     config.Config
	Metrics *metrics.Metrics
}

func (o *Orchestrator) stageConfig() lifecycle.StageConfig {
	return lifecycle.StageConfig{
		MaxAttempts:   o.Cfg.MaxRenderAttempts,
		Backoff:       time.Duration(o.Cfg.RetryBackoffSec) * time.Second,
		RetryState:    lifecycle.StateReadyForRender,
		RetryStage:    lifecycle.StageRender,
		TerminalState: lifecycle.StateRenderFailed,
	}
}

// RunCycle reclaims stale renders, then claims and fully processes at
// most one READY_FOR_RENDER job. Returns whether a job was claimed.
func (o *Orchestrator) RunCycle(ctx context.Context, workerID string, now time.Time) (bool, error) {
	leaseTTL := time.Duration(o.Cfg.JobLockTTLSec) * time.Second
	cfg := o.stageConfig()

	if _, err := lifecycle.ReclaimStale(ctx, o.Store, cfg, leaseTTL, now); err != nil {
		return false, fmt.Errorf("orchestrator: reclaim stale: %w", err)
	}

	jobID, ok, err := o.Store.Claim(ctx, lifecycle.StateReadyForRender, workerID, leaseTTL, now)
	if err != nil {
		return false, fmt.Errorf("orchestrator: claim: %w", err)
	}
	if !ok {
		return false, nil
	}
	if o.Metrics != nil {
		o.Metrics.StageClaimed.WithLabelValues(lifecycle.StageRender).Inc()
		o.Metrics.JobsInFlight.Inc()
		defer o.Metrics.JobsInFlight.Dec()
	}

	start := time.Now()
	err = o.process(ctx, jobID, workerID, cfg, now)
	if o.Metrics != nil {
		o.Metrics.RenderDurationSec.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.LogError(fmt.Sprintf("job-%d", jobID), "orchestrator cycle ended with error", err)
	}
	return true, nil
}

func (o *Orchestrator) process(ctx context.Context, jobID int64, workerID string, cfg lifecycle.StageConfig, now time.Time) error {
	id := fmt.Sprintf("job-%d", jobID)

	if err := o.Store.UpdateState(ctx, jobID, lifecycle.StateFetchingInputs, lifecycle.StageRender, now); err != nil {
		return fmt.Errorf("orchestrator: transition to fetching_inputs: %w", err)
	}
	_ = o.Store.UpdateProgress(ctx, jobID, 0, "fetching inputs", now)

	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load job: "+err.Error()), now)
	}
	if job.State == lifecycle.StateCancelled {
		return o.Store.ReleaseLock(ctx, jobID, workerID, now)
	}

	release, err := o.Store.GetRelease(ctx, job.ReleaseID)
	if err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load release: "+err.Error()), now)
	}
	channel, err := o.Store.GetChannelByID(ctx, release.ChannelID)
	if err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load channel: "+err.Error()), now)
	}

	inputs, err := o.Store.ListJobInputs(ctx, jobID)
	if err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("load inputs: "+err.Error()), now)
	}

	var tracks, backgrounds, covers []store.JobInput
	for _, in := range inputs {
		switch in.Role {
		case roleTrack:
			tracks = append(tracks, in)
		case roleBackground:
			backgrounds = append(backgrounds, in)
		case roleCover:
			covers = append(covers, in)
		}
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].OrderIndex < tracks[j].OrderIndex })

	var bg *store.JobInput
	if len(backgrounds) > 0 {
		bg = &backgrounds[0]
	} else if len(covers) > 0 {
		bg = &covers[0]
	}
	if len(tracks) == 0 || bg == nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("missing inputs (tracks/background)"), now)
	}

	ws := paths.WorkspaceDir(o.Cfg.StorageRoot, jobID)
	ob := paths.OutboxDir(o.Cfg.StorageRoot, jobID)
	_ = os.RemoveAll(ws)
	_ = os.RemoveAll(ob)
	_ = os.Remove(paths.CancelFlagPath(o.Cfg.StorageRoot, jobID))

	projectName := sanitizeTitle(channel.DisplayName, "")
	if projectName == "" {
		projectName = channel.Slug
	}
	rootDir := filepath.Join(ws, "YouTubeRoot")
	projectDir := filepath.Join(rootDir, projectName)
	audioDir := filepath.Join(projectDir, "Audio")
	imagesDir := filepath.Join(projectDir, "Images")
	releaseDir := filepath.Join(projectDir, "Release")
	for _, d := range []string{audioDir, imagesDir, releaseDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("mkdir workspace: "+err.Error()), now)
		}
	}

	bgStagedName := StagedImageFilename(bg.Asset.Name.String, "background.png")
	bgDst := filepath.Join(imagesDir, bgStagedName)
	if !bg.Asset.Path.Valid {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("background asset missing path"), now)
	}
	if err := o.Origin.Stage(ctx, bg.Asset.Path.String, bgDst); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("stage background: "+err.Error()), now)
	}

	var trackIDs []string
	for i, t := range tracks {
		idx := i + 1
		trackIDs = append(trackIDs, fmt.Sprintf("%03d", idx))
		if !t.Asset.Path.Valid {
			return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith(fmt.Sprintf("track %d missing path", idx)), now)
		}
		dst := filepath.Join(audioDir, StagedAudioFilename(idx, t.Asset.Name.String))
		if err := o.Origin.Stage(ctx, t.Asset.Path.String, dst); err != nil {
			return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("stage track: "+err.Error()), now)
		}
	}

	playlist := BuildPlayLists(release.Title, trackIDs, bgStagedName)
	if err := os.WriteFile(filepath.Join(projectDir, "PlayLists.txt"), []byte(playlist), 0o644); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("write playlists: "+err.Error()), now)
	}

	if cancelled, err := o.checkCancelled(ctx, jobID); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("check cancellation: "+err.Error()), now)
	} else if cancelled {
		return o.cancel(ctx, jobID, workerID, "cancelled during input staging", ws, now)
	}

	if err := o.Store.UpdateState(ctx, jobID, lifecycle.StateRendering, lifecycle.StageRender, now); err != nil {
		return fmt.Errorf("orchestrator: transition to rendering: %w", err)
	}
	_ = o.Store.UpdateProgress(ctx, jobID, 0, "rendering", now)

	cancelled, stuck, fatalReason, renderErr := o.runRenderer(ctx, jobID, id, rootDir, releaseDir, now)
	if cancelled {
		return o.cancel(ctx, jobID, workerID, "cancelled by user", ws, now)
	}
	if renderErr != nil {
		outBytes := sumOutputBytes(releaseDir)
		_ = os.RemoveAll(ws)
		if fatalReason != "" {
			return o.applyOutcome(ctx, jobID, cfg, lifecycle.FailTerminal(fatalReason), now)
		}
		reason := renderErr.Error()
		if stuck {
			reason = fmt.Sprintf("renderer stuck: no output growth (output at %d bytes)", outBytes)
		}
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith(reason), now)
	}

	mp4Src, err := newestMP4(releaseDir)
	if err != nil {
		_ = os.RemoveAll(ws)
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("no mp4 produced"), now)
	}
	if err := os.MkdirAll(ob, 0o755); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("mkdir outbox: "+err.Error()), now)
	}
	mp4Dst := filepath.Join(ob, "render.mp4")
	if err := moveFile(mp4Src, mp4Dst); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("move render: "+err.Error()), now)
	}

	if len(covers) > 0 {
		o.stageCoverBestEffort(ctx, id, covers[0], bg, bgDst, ws, ob)
	}

	previewDst := paths.PreviewPath(o.Cfg.StorageRoot, jobID)
	if err := renderPreview(ctx, id, o.Cfg, mp4Dst, previewDst); err != nil {
		log.LogError(id, "preview render failed, proceeding without preview", err)
	}

	mp4AssetID, err := o.Store.CreateAsset(ctx, store.Asset{
		ChannelID: channel.ID,
		Kind:      "MP4",
		Origin:    "vm",
		Name:      sqlNullString("render.mp4"),
		Path:      sqlNullString(mp4Dst),
	}, float64(now.Unix()))
	if err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("record mp4 asset: "+err.Error()), now)
	}
	if err := o.Store.LinkJobOutput(ctx, jobID, mp4AssetID, "MP4"); err != nil {
		return o.applyOutcome(ctx, jobID, cfg, lifecycle.RetryWith("link mp4 output: "+err.Error()), now)
	}

	if _, statErr := os.Stat(previewDst); statErr == nil {
		prevAssetID, err := o.Store.CreateAsset(ctx, store.Asset{
			ChannelID: channel.ID,
			Kind:      "PREVIEW_60S",
			Origin:    "vm",
			Name:      sqlNullString(filepath.Base(previewDst)),
			Path:      sqlNullString(previewDst),
		}, float64(now.Unix()))
		if err == nil {
			_ = o.Store.LinkJobOutput(ctx, jobID, prevAssetID, "PREVIEW_60S")
		}
	}

	_ = o.Store.UpdateProgress(ctx, jobID, 100, "render done", now)
	_ = o.Store.ClearRetry(ctx, jobID, now)
	if err := o.Store.UpdateStateAndUnlock(ctx, jobID, lifecycle.StateQARunning, lifecycle.StageQA, now); err != nil {
		return fmt.Errorf("orchestrator: transition to qa_running: %w", err)
	}

	_ = os.RemoveAll(ws)
	return nil
}

// stageCoverBestEffort copies a release's optional cover into the outbox
// for thumbnail upload. Failure here never fails the render: a missing
// thumbnail is cosmetic, not a render defect.
func (o *Orchestrator) stageCoverBestEffort(ctx context.Context, id string, cover store.JobInput, bg *store.JobInput, bgDst, ws, ob string) {
	coverName := StagedImageFilename(cover.Asset.Name.String, "cover.png")
	coverDst := filepath.Join(ob, "cover", coverName)
	if cover.AssetID == bg.AssetID {
		if err := copyFile(bgDst, coverDst); err != nil {
			log.LogError(id, "cover copy from background failed, skipping thumbnail", err)
		}
		return
	}
	if !cover.Asset.Path.Valid {
		return
	}
	tmp := filepath.Join(ws, "tmp_cover", coverName)
	if err := o.Origin.Stage(ctx, cover.Asset.Path.String, tmp); err != nil {
		log.LogError(id, "cover stage failed, skipping thumbnail", err)
		return
	}
	if err := copyFile(tmp, coverDst); err != nil {
		log.LogError(id, "cover copy failed, skipping thumbnail", err)
	}
}

// applyOutcome reduces outcome to a store mutation via lifecycle.Apply and
// records which stage metric it landed in, then returns a non-nil error
// describing why the cycle did not reach QA_RUNNING.
func (o *Orchestrator) applyOutcome(ctx context.Context, jobID int64, cfg lifecycle.StageConfig, outcome lifecycle.Outcome, now time.Time) error {
	if err := lifecycle.Apply(ctx, o.Store, jobID, cfg, outcome, now); err != nil {
		return fmt.Errorf("orchestrator: apply outcome: %w", err)
	}
	if o.Metrics != nil {
		landedTerminal := outcome.IsTerminal()
		if outcome.IsRetry() {
			if j, err := o.Store.GetJob(ctx, jobID); err == nil && j.State == cfg.TerminalState {
				landedTerminal = true
			}
		}
		if landedTerminal {
			o.Metrics.StageTerminal.WithLabelValues(lifecycle.StageRender).Inc()
		} else {
			o.Metrics.StageRetried.WithLabelValues(lifecycle.StageRender).Inc()
		}
	}
	return fmt.Errorf("orchestrator: %s", outcome.Reason())
}

func (o *Orchestrator) cancel(ctx context.Context, jobID int64, workerID, reason, ws string, now time.Time) error {
	if err := o.Store.Cancel(ctx, jobID, reason, now); err != nil {
		return fmt.Errorf("orchestrator: cancel: %w", err)
	}
	_ = o.Store.ClearRetry(ctx, jobID, now)
	_ = o.Store.ReleaseLock(ctx, jobID, workerID, now)
	_ = os.RemoveAll(ws)
	return nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID int64) (bool, error) {
	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.State == lifecycle.StateCancelled, nil
}

func (o *Orchestrator) cancellationRequested(ctx context.Context, jobID int64, cancelFlagPath string) bool {
	if _, err := os.Stat(cancelFlagPath); err == nil {
		return true
	}
	cancelled, err := o.checkCancelled(ctx, jobID)
	return err == nil && cancelled
}

// runRenderer spawns the external renderer and owns its entire lifecycle:
// a stdout-reader goroutine (subprocess.StreamLines) and a 1s-ticker
// goroutine (run under an errgroup) each only ever produce events on a
// channel; this function's
// own select loop is the single owner that reads those channels, writes
// progress, drives the growth watchdog, and decides whether to terminate
// the child for cancellation or a stall. No mutable state crosses a
// goroutine boundary except through these two channels.
func (o *Orchestrator) runRenderer(ctx context.Context, jobID int64, id, rootDir, releaseDir string, now time.Time) (cancelled, stuck bool, fatalReason string, err error) {
	cancelFlagPath := paths.CancelFlagPath(o.Cfg.StorageRoot, jobID)

	cmd := exec.Command(o.Cfg.RendererPath, rootDir)
	pr, pw, pipeErr := os.Pipe()
	if pipeErr != nil {
		return false, false, "", fmt.Errorf("orchestrator: open pipe: %w", pipeErr)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	log.Log(id, "starting renderer", "path", o.Cfg.RendererPath, "root", rootDir)
	if startErr := cmd.Start(); startErr != nil {
		pr.Close()
		pw.Close()
		return false, false, "", fmt.Errorf("orchestrator: start renderer: %w", startErr)
	}
	pw.Close()

	lines := subprocess.StreamLines(id, pr)
	reporter := progress.NewReporter(o.Store, jobID)
	wd := watchdog.New(now,
		time.Duration(o.Cfg.WatchdogGraceSec)*time.Second,
		time.Duration(o.Cfg.WatchdogIdleSec)*time.Second,
		o.Cfg.WatchdogMinDeltaBytes)

	group, gctx := errgroup.WithContext(ctx)
	tick := make(chan time.Time)
	stopTick := make(chan struct{})
	group.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopTick:
				return nil
			case <-gctx.Done():
				return nil
			case t := <-ticker.C:
				select {
				case tick <- t:
				case <-stopTick:
					return nil
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			_ = paths.AppendJobLog(o.Cfg.StorageRoot, jobID, line)
			if reason, isFatal := ParseFatalImageInvalid(line); isFatal {
				fatalReason = reason
			}
			if pct, okPct := ParseProgressPercent(line); okPct {
				_, _ = reporter.Report(ctx, pct, "rendering", time.Now())
			}
		case t := <-tick:
			if o.cancellationRequested(ctx, jobID, cancelFlagPath) {
				cancelled = true
				log.Log(id, "cancel requested, terminating renderer")
				_ = cmd.Process.Signal(syscall.SIGTERM)
				break loop
			}
			wd.Update(sumOutputBytes(releaseDir), t)
			if wd.IsStuck(t) {
				stuck = true
				log.Log(id, "renderer output stuck, terminating")
				_ = cmd.Process.Signal(syscall.SIGTERM)
				break loop
			}
		}
	}

	close(stopTick)
	_ = group.Wait()

	if stuck {
		time.Sleep(time.Duration(o.Cfg.WatchdogKillAfterSec) * time.Second)
		_ = cmd.Process.Kill()
	}
	for range lines {
	}

	waitErr := cmd.Wait()
	if cancelled {
		return true, false, "", nil
	}
	if fatalReason != "" {
		return false, stuck, fatalReason, fmt.Errorf("orchestrator: %s", fatalReason)
	}
	if waitErr != nil {
		return false, stuck, "", fmt.Errorf("orchestrator: renderer exited: %w", waitErr)
	}
	if stuck {
		return false, true, "", fmt.Errorf("orchestrator: renderer stuck: no output growth")
	}
	return false, false, "", nil
}

func sumOutputBytes(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

func newestMP4(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = filepath.Join(dir, e.Name()), info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no mp4 found under %s", dir)
	}
	return best, nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
