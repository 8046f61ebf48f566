// Package paths centralizes the on-disk layout under a process's storage
// root, so the orchestrator, QA gate, approval API, and cleanup cycle
// agree on where a job's workspace, outputs, logs, and cancellation
// marker live without each reimplementing the join.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

func WorkspaceDir(storageRoot string, jobID int64) string {
	return filepath.Join(storageRoot, "workspace", fmt.Sprintf("job_%d", jobID))
}

func OutboxDir(storageRoot string, jobID int64) string {
	return filepath.Join(storageRoot, "outbox", fmt.Sprintf("job_%d", jobID))
}

func LogsPath(storageRoot string, jobID int64) string {
	return filepath.Join(storageRoot, "logs", fmt.Sprintf("job_%d.log", jobID))
}

func QAPath(storageRoot string, jobID int64) string {
	return filepath.Join(storageRoot, "qa", fmt.Sprintf("job_%d.json", jobID))
}

func PreviewPath(storageRoot string, jobID int64) string {
	return filepath.Join(storageRoot, "previews", fmt.Sprintf("job_%d_preview60.mp4", jobID))
}

// CancelFlagPath is the marker file a human cancellation request drops
// into a job's workspace; the orchestrator polls for it while a render is
// in flight.
func CancelFlagPath(storageRoot string, jobID int64) string {
	return filepath.Join(WorkspaceDir(storageRoot, jobID), "YouTubeRoot", ".cancel")
}

// AppendJobLog appends one line to a job's log file, creating its parent
// directory on first write. Every renderer stdout/stderr line flows
// through this so the approval dashboard's log viewer has a durable
// record that survives the workspace cleanup.
func AppendJobLog(storageRoot string, jobID int64, line string) error {
	p := LogsPath(storageRoot, jobID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// ReadJobLog returns a job's full accumulated log text, or "" if it has
// none yet.
func ReadJobLog(storageRoot string, jobID int64) (string, error) {
	b, err := os.ReadFile(LogsPath(storageRoot, jobID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
