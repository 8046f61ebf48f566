// Package qa is the structural-validation gate between a finished render
// and upload: it probes the MP4 the orchestrator produced, compares it
// against the channel's render profile, and decides whether the job may
// proceed to upload or must stop for a human to look at it.
package qa

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/metrics"
	"github.com/MindDevastation/factory-vm/store"
	"github.com/MindDevastation/factory-vm/video"
)

const roleMP4 = "MP4"

// Report is the structural result of one QA pass, persisted both as a
// qa_reports row and as a JSON file under <storage>/qa/job_<id>.json.
type Report struct {
	JobID            int64    `json:"job_id"`
	HardOK           bool     `json:"hard_ok"`
	Warnings         []string `json:"warnings"`
	Info             []string `json:"info"`
	DurationExpected float64  `json:"duration_expected"`
	DurationActual   float64  `json:"duration_actual"`
	VCodec           string   `json:"vcodec"`
	ACodec           string   `json:"acodec"`
	FPS              float64  `json:"fps"`
	Width            int64    `json:"width"`
	Height           int64    `json:"height"`
	SampleRate       int      `json:"sample_rate"`
	Channels         int      `json:"channels"`
	MeanVolumeDB     float64  `json:"mean_volume_db"`
	MaxVolumeDB      float64  `json:"max_volume_db"`
}

type Gate struct {
	Store   *store.Store
	Prober  video.Prober
	Cfg     config.Config
	Metrics *metrics.Metrics
}

type Stats struct {
	Passed   int
	Failed   int
	Skipped  bool
}

// RunCycle claims and processes at most one QA_RUNNING job.
func (g *Gate) RunCycle(ctx context.Context, workerID string, now time.Time) (Stats, error) {
	leaseTTL := time.Duration(g.Cfg.JobLockTTLSec) * time.Second
	jobID, ok, err := g.Store.Claim(ctx, lifecycle.StateQARunning, workerID, leaseTTL, now)
	if err != nil {
		return Stats{}, fmt.Errorf("claim qa job: %w", err)
	}
	if !ok {
		return Stats{Skipped: true}, nil
	}
	if g.Metrics != nil {
		g.Metrics.StageClaimed.WithLabelValues(lifecycle.StageQA).Inc()
	}

	passed, err := g.process(ctx, jobID, now)
	if err != nil {
		return Stats{}, err
	}
	if passed {
		return Stats{Passed: 1}, nil
	}
	return Stats{Failed: 1}, nil
}

func (g *Gate) process(ctx context.Context, jobID int64, now time.Time) (bool, error) {
	job, err := g.Store.GetJob(ctx, jobID)
	if err != nil {
		return false, g.fail(ctx, jobID, "failed to load job: "+err.Error(), now)
	}
	release, err := g.Store.GetRelease(ctx, job.ReleaseID)
	if err != nil {
		return false, g.fail(ctx, jobID, "failed to load release: "+err.Error(), now)
	}
	channel, err := g.Store.GetChannelByID(ctx, release.ChannelID)
	if err != nil {
		return false, g.fail(ctx, jobID, "failed to load channel: "+err.Error(), now)
	}
	profile, err := g.Store.GetRenderProfile(ctx, channel.RenderProfile)
	if err != nil {
		return false, g.fail(ctx, jobID, "failed to load render profile: "+err.Error(), now)
	}

	mp4Asset, err := g.Store.GetJobOutput(ctx, jobID, roleMP4)
	if err != nil {
		return false, g.fail(ctx, jobID, "failed to load mp4 output: "+err.Error(), now)
	}
	if mp4Asset == nil || !mp4Asset.Path.Valid {
		return false, g.fail(ctx, jobID, "missing mp4", now)
	}
	mp4Path := mp4Asset.Path.String
	if _, statErr := os.Stat(mp4Path); statErr != nil {
		return false, g.fail(ctx, jobID, "missing mp4", now)
	}

	report := g.buildReport(ctx, jobID, mp4Path, *profile)
	if err := g.persist(ctx, report, now); err != nil {
		return false, fmt.Errorf("persist qa report: %w", err)
	}

	if !report.HardOK {
		return false, g.failWithReport(ctx, jobID, "QA blocked: hard failure", report, true, now)
	}
	if g.Cfg.QAWarningBlocksPipeline && len(report.Warnings) > 0 {
		return false, g.failWithReport(ctx, jobID, "QA blocked: warnings present", report, false, now)
	}

	if err := g.Store.UpdateStateAndUnlock(ctx, jobID, lifecycle.StateUploading, lifecycle.StageUpload, now); err != nil {
		return false, fmt.Errorf("transition to uploading: %w", err)
	}
	return true, nil
}

func (g *Gate) buildReport(ctx context.Context, jobID int64, mp4Path string, profile store.RenderProfile) Report {
	r := Report{JobID: jobID, HardOK: true}

	probe, err := g.Prober.ProbeFile(ctx, fmt.Sprintf("qa-%d", jobID), mp4Path)
	if err != nil {
		r.HardOK = false
		r.Info = append(r.Info, "probe error: "+err.Error())
		return r
	}

	if !probe.HasVideo || !probe.HasAudio {
		r.HardOK = false
		if !probe.HasVideo {
			r.Info = append(r.Info, "missing video stream")
		}
		if !probe.HasAudio {
			r.Info = append(r.Info, "missing audio stream")
		}
	}

	r.VCodec = probe.VCodec
	r.ACodec = probe.ACodec
	r.FPS = probe.FPS
	r.Width = probe.Width
	r.Height = probe.Height
	r.SampleRate = probe.SampleRate
	r.Channels = probe.Channels
	r.DurationActual = probe.DurationVideo
	r.DurationExpected = probe.DurationAudio

	if probe.HasVideo && probe.HasAudio {
		diff := math.Abs(probe.DurationVideo - probe.DurationAudio)
		if diff > g.Cfg.QADurationDiffHardFail {
			r.HardOK = false
			r.Info = append(r.Info, fmt.Sprintf("duration mismatch: video=%.2fs audio=%.2fs", probe.DurationVideo, probe.DurationAudio))
		}
	}

	if !r.HardOK {
		return r
	}

	if math.Abs(probe.FPS-profile.FPS) > g.Cfg.QAFPSTolerance {
		r.Warnings = append(r.Warnings, fmt.Sprintf("fps %.3f deviates from profile %.3f", probe.FPS, profile.FPS))
	}
	if int(probe.Width) != profile.VideoW || int(probe.Height) != profile.VideoH {
		r.Warnings = append(r.Warnings, fmt.Sprintf("resolution %dx%d does not match profile %dx%d", probe.Width, probe.Height, profile.VideoW, profile.VideoH))
	}
	if probe.VCodec != profile.VCodecRequired {
		r.Warnings = append(r.Warnings, fmt.Sprintf("video codec %s does not match required %s", probe.VCodec, profile.VCodecRequired))
	}
	if probe.ACodec != profile.ACodecRequired {
		r.Warnings = append(r.Warnings, fmt.Sprintf("audio codec %s does not match required %s", probe.ACodec, profile.ACodecRequired))
	}
	if probe.SampleRate != profile.AudioSR || probe.Channels != profile.AudioCh {
		r.Warnings = append(r.Warnings, fmt.Sprintf("audio format %dHz/%dch does not match profile %dHz/%dch", probe.SampleRate, probe.Channels, profile.AudioSR, profile.AudioCh))
	}

	loud, err := video.Loudness(ctx, fmt.Sprintf("qa-%d", jobID), mp4Path, g.Cfg.QAVolumedetectSeconds)
	if err != nil {
		r.Info = append(r.Info, "volumedetect failed: "+err.Error())
	} else {
		r.MeanVolumeDB = loud.MeanDB
		r.MaxVolumeDB = loud.MaxDB
		if loud.MaxDB >= g.Cfg.QAWarnMaxDB {
			r.Warnings = append(r.Warnings, fmt.Sprintf("max volume %.1fdB risks clipping", loud.MaxDB))
		}
		if loud.MeanDB > g.Cfg.QAWarnMeanHighDB {
			r.Warnings = append(r.Warnings, fmt.Sprintf("mean volume %.1fdB may be too hot", loud.MeanDB))
		}
		if loud.MeanDB < g.Cfg.QAWarnMeanLowDB {
			r.Warnings = append(r.Warnings, fmt.Sprintf("mean volume %.1fdB may be too quiet", loud.MeanDB))
		}
	}

	return r
}

func (g *Gate) persist(ctx context.Context, r Report, now time.Time) error {
	warningsJSON, err := json.Marshal(r.Warnings)
	if err != nil {
		return err
	}
	infoJSON, err := json.Marshal(r.Info)
	if err != nil {
		return err
	}

	if err := g.Store.SetQAReport(ctx, store.QAReport{
		JobID:            r.JobID,
		HardOK:           r.HardOK,
		WarningsJSON:     string(warningsJSON),
		InfoJSON:         string(infoJSON),
		DurationExpected: nullFloat(r.DurationExpected),
		DurationActual:   nullFloat(r.DurationActual),
		VCodec:           nullString(r.VCodec),
		ACodec:           nullString(r.ACodec),
		FPS:              nullFloat(r.FPS),
		Width:            nullInt(r.Width),
		Height:           nullInt(r.Height),
		SampleRate:       nullInt(int64(r.SampleRate)),
		Channels:         nullInt(int64(r.Channels)),
		MeanVolumeDB:     nullFloat(r.MeanVolumeDB),
		MaxVolumeDB:      nullFloat(r.MaxVolumeDB),
		CreatedAt:        float64(now.Unix()),
	}); err != nil {
		return fmt.Errorf("write qa_reports row: %w", err)
	}

	qaDir := filepath.Join(g.Cfg.StorageRoot, "qa")
	if err := os.MkdirAll(qaDir, 0o755); err != nil {
		return fmt.Errorf("create qa dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(qaDir, fmt.Sprintf("job_%d.json", r.JobID)), data, 0o644)
}

func nullFloat(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }
func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }
func nullInt(i int64) sql.NullInt64      { return sql.NullInt64{Int64: i, Valid: true} }

func (g *Gate) fail(ctx context.Context, jobID int64, reason string, now time.Time) error {
	if g.Metrics != nil {
		g.Metrics.StageTerminal.WithLabelValues(lifecycle.StageQA).Inc()
	}
	return g.Store.FailTerminal(ctx, jobID, lifecycle.StateQAFailed, reason, now)
}

func (g *Gate) failWithReport(ctx context.Context, jobID int64, reason string, r Report, hardFail bool, now time.Time) error {
	if g.Metrics != nil {
		if hardFail {
			g.Metrics.QAHardFail.Inc()
		}
		for range r.Warnings {
			g.Metrics.QAWarnings.WithLabelValues("content").Inc()
		}
	}
	return g.fail(ctx, jobID, reason, now)
}
