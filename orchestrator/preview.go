package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/log"
)

// renderPreview produces a short scaled H.264+AAC preview clip from src,
// per the fixed external-tool contract the approval dashboard's player
// expects. It is a fire-and-forget ffmpeg invocation, not line-parsed like
// the main renderer.
func renderPreview(ctx context.Context, id string, cfg config.Config, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("orchestrator: preview mkdir: %w", err)
	}

	scale := fmt.Sprintf("scale=%d:%d", cfg.PreviewWidth, cfg.PreviewHeight)
	args := []string{
		"-hide_banner", "-nostats", "-y",
		"-i", src,
		"-t", fmt.Sprintf("%d", cfg.PreviewSeconds),
		"-vf", scale,
		"-r", fmt.Sprintf("%d", cfg.PreviewFPS),
		"-c:v", "libx264", "-b:v", cfg.PreviewVideoBitrate,
		"-c:a", "aac", "-b:a", cfg.PreviewAudioBitrate,
		dst,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.LogError(id, "preview render failed", err, "src", src, "dst", dst, "stderr", stderr.String())
		return fmt.Errorf("orchestrator: render preview: %w", err)
	}
	return nil
}
