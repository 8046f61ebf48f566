// Package subprocess wraps external child-process stdout/stderr handling:
// line-oriented streaming for callers that need to parse output (the
// orchestrator's progress parser) and simple pass-through logging for
// callers that just want the child's output in the log.
package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"

	"github.com/MindDevastation/factory-vm/log"
)

// StreamLines reads newline-delimited text from src and sends each line
// (without its trailing newline) on the returned channel, which is closed
// when src reaches EOF or a read error occurs. id tags error log lines.
func StreamLines(id string, src io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewReader(src)
		for {
			line, err := s.ReadString('\n')
			if len(line) > 0 {
				lines <- trimNewline(line)
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				log.LogError(id, "subprocess stream read error", err)
				return
			}
		}
	}()
	return lines
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	n = len(s)
	if n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

// LogStderr drains cmd's stderr to the log, line by line, tagged with id.
// Used for the preview-render and other fire-and-forget child processes
// where nobody needs to parse the output.
func LogStderr(id string, cmd *exec.Cmd) error {
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("subprocess: open stderr pipe: %w", err)
	}
	go func() {
		for line := range StreamLines(id, pipe) {
			log.Log(id, "child stderr", "line", line)
		}
	}()
	return nil
}
