package origin

import (
	"fmt"
	"os"
	"time"
)

// WaitStable probes that a local file has settled -- its size has not
// changed between two reads wait apart -- before a caller commits to
// staging it. Returns InputUnstable-flavored errors the caller can
// classify for the retry policy.
func WaitStable(path string, wait time.Duration) error {
	first, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("origin: stability wait: %w", err)
	}
	time.Sleep(wait)
	second, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("origin: stability wait: %w", err)
	}
	if first.Size() != second.Size() {
		return fmt.Errorf("origin: file still being written: %s (%d -> %d bytes)", path, first.Size(), second.Size())
	}
	return nil
}
