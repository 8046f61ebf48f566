package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/MindDevastation/factory-vm/log"
)

var (
	meanVolumeRE = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)
	maxVolumeRE  = regexp.MustCompile(`max_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)
)

// LoudnessResult is the mean and max volume ffmpeg's volumedetect filter
// reports over the sampled window.
type LoudnessResult struct {
	MeanDB float64
	MaxDB  float64
}

// Loudness shells out to `ffmpeg -af volumedetect` over the first
// seconds of path and parses the mean/max dB lines out of its stderr.
// Sampling only the first N seconds keeps QA fast on multi-hour renders.
func Loudness(ctx context.Context, id, path string, seconds int) (LoudnessResult, error) {
	args := []string{"-hide_banner", "-nostats", "-i", path}
	if seconds > 0 {
		args = append(args, "-t", strconv.Itoa(seconds))
	}
	args = append(args, "-af", "volumedetect", "-f", "null", "-")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.LogError(id, "ffmpeg volumedetect failed", err, "path", path, "stderr", stderr.String())
		return LoudnessResult{}, fmt.Errorf("volumedetect %s: %w", path, err)
	}

	r, err := parseVolumedetect(stderr.String())
	if err != nil {
		return LoudnessResult{}, fmt.Errorf("volumedetect %s: %w", path, err)
	}
	return r, nil
}

func parseVolumedetect(txt string) (LoudnessResult, error) {
	meanMatch := meanVolumeRE.FindStringSubmatch(txt)
	maxMatch := maxVolumeRE.FindStringSubmatch(txt)
	if meanMatch == nil || maxMatch == nil {
		return LoudnessResult{}, fmt.Errorf("mean/max volume not found in ffmpeg output")
	}

	mean, err := strconv.ParseFloat(meanMatch[1], 64)
	if err != nil {
		return LoudnessResult{}, fmt.Errorf("parse mean_volume: %w", err)
	}
	max, err := strconv.ParseFloat(maxMatch[1], 64)
	if err != nil {
		return LoudnessResult{}, fmt.Errorf("parse max_volume: %w", err)
	}
	return LoudnessResult{MeanDB: mean, MaxDB: max}, nil
}
