// Package config builds the immutable configuration value every worker
// role and the approval API server is constructed from. There is no
// process-wide singleton: FromFlags is called once in main.go's
// main(), and the resulting Config is passed by value into everything
// that needs it. Tests construct Config literals directly.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
)

const (
	OriginBackendLocal = "local"
	OriginBackendMock  = "mock"

	UploadBackendYouTube = "youtube"
	UploadBackendMock    = "mock"

	RetentionWindow = 48 * time.Hour
)

// Config is built once per process and never mutated afterward.
type Config struct {
	StorageRoot string
	DBPath      string

	OriginBackend    string
	OriginLocalRoot  string
	UploadBackend    string
	YouTubeTokensDir string
	YouTubeTokenPath string
	YouTubeSecretPath string

	QAVolumedetectSeconds  int
	QADurationDiffHardFail float64
	QAFPSTolerance         float64
	QAWarnMaxDB            float64
	QAWarnMeanHighDB       float64
	QAWarnMeanLowDB        float64
	QAWarningBlocksPipeline bool
	JobLockTTLSec         int
	RetryBackoffSec       int
	MaxRenderAttempts     int
	MaxUploadAttempts     int
	WorkerSleepSec        int

	WatchdogIdleSec       int
	WatchdogGraceSec      int
	WatchdogMinDeltaBytes int64
	WatchdogKillAfterSec  int

	RendererPath        string
	StabilityWaitSec     int
	PreviewSeconds       int
	PreviewWidth         int
	PreviewHeight        int
	PreviewFPS           int
	PreviewVideoBitrate  string
	PreviewAudioBitrate  string

	APIBasicAuthUser string
	APIBasicAuthPass string
	APIAddr          string
	MetricsAddr      string
}

// FromFlags parses args against fs (typically a fresh flag.FlagSet per
// binary) using peterbourgon/ff so every flag is also settable via a
// CATALYST_FACTORY_ prefixed environment variable.
func FromFlags(fs *flag.FlagSet, args []string) (Config, error) {
	var c Config

	fs.StringVar(&c.StorageRoot, "storage-root", "./data", "Root directory for workspace/outbox/qa/logs/previews")
	fs.StringVar(&c.DBPath, "db-path", "./data/factory.db", "Path to the SQLite store file")

	fs.StringVar(&c.OriginBackend, "origin-backend", OriginBackendLocal, "Origin backend: local or mock")
	fs.StringVar(&c.OriginLocalRoot, "origin-local-root", "./data/origin", "Root of the local origin filesystem tree")
	fs.StringVar(&c.UploadBackend, "upload-backend", UploadBackendMock, "Upload backend: youtube or mock")
	fs.StringVar(&c.YouTubeTokensDir, "youtube-tokens-dir", "", "Base directory for per-channel YouTube token directories (<dir>/<slug>/token.json)")
	fs.StringVar(&c.YouTubeTokenPath, "youtube-token-path", "", "Fallback global YouTube token path, used when no per-channel token exists")
	fs.StringVar(&c.YouTubeSecretPath, "youtube-client-secret-path", "", "Fallback global YouTube client secret path")

	fs.IntVar(&c.QAVolumedetectSeconds, "qa-volumedetect-seconds", 60, "Seconds of audio sampled for loudness detection")
	fs.Float64Var(&c.QADurationDiffHardFail, "qa-duration-diff-hard-fail-sec", 2.0, "Max allowed |duration_video - duration_audio| before a hard QA failure")
	fs.Float64Var(&c.QAFPSTolerance, "qa-fps-tolerance", 0.1, "Allowed deviation from the channel's render profile fps before a QA warning")
	fs.Float64Var(&c.QAWarnMaxDB, "qa-warn-max-db", -0.1, "Max-volume dB at or above which QA warns of clipping risk")
	fs.Float64Var(&c.QAWarnMeanHighDB, "qa-warn-mean-high-db", -10, "Mean-volume dB above which QA warns the track may be too hot")
	fs.Float64Var(&c.QAWarnMeanLowDB, "qa-warn-mean-low-db", -55, "Mean-volume dB below which QA warns the track may be too quiet")
	fs.BoolVar(&c.QAWarningBlocksPipeline, "qa-warning-blocks-pipeline", true, "Whether a non-empty warning list itself routes a job to QA_FAILED")
	fs.IntVar(&c.JobLockTTLSec, "job-lock-ttl-sec", 12*3600, "Seconds before an unrenewed lock is considered stale")
	fs.IntVar(&c.RetryBackoffSec, "retry-backoff-sec", 300, "Base backoff before a retried job becomes claimable again")
	fs.IntVar(&c.MaxRenderAttempts, "max-render-attempts", 3, "Maximum render attempts before RENDER_FAILED")
	fs.IntVar(&c.MaxUploadAttempts, "max-upload-attempts", 3, "Maximum upload attempts before UPLOAD_FAILED")
	fs.IntVar(&c.WorkerSleepSec, "worker-sleep-sec", 5, "Sleep between worker cycles when no job was claimed")

	fs.IntVar(&c.WatchdogIdleSec, "render-watchdog-idle-sec", 120, "Seconds without output growth before a render is considered stuck")
	fs.IntVar(&c.WatchdogGraceSec, "render-watchdog-grace-sec", 30, "Seconds after start before the watchdog starts monitoring")
	fs.Int64Var(&c.WatchdogMinDeltaBytes, "render-watchdog-min-delta-bytes", 65536, "Minimum byte growth between samples to count as progress")
	fs.IntVar(&c.WatchdogKillAfterSec, "render-watchdog-kill-after-sec", 30, "Seconds to wait after terminate before force-killing a stuck renderer")

	fs.StringVar(&c.RendererPath, "renderer-path", "render_video", "Path to the external renderer child program, invoked with the workspace root as its only argument")
	fs.IntVar(&c.StabilityWaitSec, "stability-wait-sec", 2, "Seconds between the two size reads of origin.WaitStable; orchestrator staging does not call WaitStable, so inputs are staged without a stability wait")
	fs.IntVar(&c.PreviewSeconds, "preview-seconds", 60, "Duration in seconds of the approval preview clip")
	fs.IntVar(&c.PreviewWidth, "preview-width", 640, "Width in pixels of the approval preview clip")
	fs.IntVar(&c.PreviewHeight, "preview-height", 360, "Height in pixels of the approval preview clip")
	fs.IntVar(&c.PreviewFPS, "preview-fps", 24, "Frame rate of the approval preview clip")
	fs.StringVar(&c.PreviewVideoBitrate, "preview-video-bitrate", "800k", "Video bitrate of the approval preview clip")
	fs.StringVar(&c.PreviewAudioBitrate, "preview-audio-bitrate", "128k", "Audio bitrate of the approval preview clip")

	fs.StringVar(&c.APIBasicAuthUser, "api-basic-auth-user", "", "HTTP Basic auth username for mutating approval API endpoints")
	fs.StringVar(&c.APIBasicAuthPass, "api-basic-auth-pass", "", "HTTP Basic auth password for mutating approval API endpoints")
	fs.StringVar(&c.APIAddr, "api-addr", "0.0.0.0:8980", "Address the approval API listens on")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "0.0.0.0:9980", "Address the Prometheus /metrics endpoint listens on")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("CATALYST_FACTORY")); err != nil {
		return Config{}, fmt.Errorf("parsing flags: %w", err)
	}
	return c, nil
}
