// Package video wraps ffprobe invocation for the QA gate: codec,
// resolution, framerate, and per-stream duration of a rendered MP4.
package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/MindDevastation/factory-vm/log"
)

// ProbeResult is the subset of a media probe the QA gate checks against a
// channel's render profile and hard-fail/warning thresholds.
type ProbeResult struct {
	HasVideo bool
	HasAudio bool

	Width, Height int64
	FPS           float64
	VCodec        string
	DurationVideo float64

	ACodec        string
	SampleRate    int
	Channels      int
	DurationAudio float64
}

type Prober interface {
	ProbeFile(ctx context.Context, id, path string) (ProbeResult, error)
}

// FFProbe shells out to ffprobe with a short exponential backoff (at most
// 3 retries) for transient I/O errors against a freshly-written file still
// being flushed to disk.
type FFProbe struct{}

func (FFProbe) ProbeFile(ctx context.Context, id, path string) (ProbeResult, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		log.LogError(id, "ffprobe failed", err, "path", path)
		return ProbeResult{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(data *ffprobe.ProbeData) (ProbeResult, error) {
	var r ProbeResult

	if v := data.FirstVideoStream(); v != nil {
		r.HasVideo = true
		r.Width = int64(v.Width)
		r.Height = int64(v.Height)
		r.VCodec = v.CodecName
		fps, err := parseFps(v.AvgFrameRate)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("parse avg framerate: %w", err)
		}
		if fps == 0 {
			fps, err = parseFps(v.RFrameRate)
			if err != nil {
				return ProbeResult{}, fmt.Errorf("parse real framerate: %w", err)
			}
		}
		r.FPS = fps
		if d, err := strconv.ParseFloat(v.Duration, 64); err == nil {
			r.DurationVideo = d
		} else if data.Format != nil {
			r.DurationVideo = data.Format.DurationSeconds
		}
	}

	if a := data.FirstAudioStream(); a != nil {
		r.HasAudio = true
		r.ACodec = a.CodecName
		if sr, err := strconv.Atoi(a.SampleRate); err == nil {
			r.SampleRate = sr
		}
		r.Channels = a.Channels
		if d, err := strconv.ParseFloat(a.Duration, 64); err == nil {
			r.DurationAudio = d
		} else if data.Format != nil {
			r.DurationAudio = data.Format.DurationSeconds
		}
	}

	return r, nil
}

// parseFps turns an ffprobe "num/den" framerate string into a float.
func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("error parsing framerate denominator: %w", err)
	}
	if den == 0 {
		if num == 0 {
			return 0, nil
		}
		return 0, errors.New("invalid framerate denominator 0")
	}
	return float64(num) / float64(den), nil
}
