// Package watchdog detects stuck renders by monitoring output-file growth
// over a grace+idle window. It is a pure, process-agnostic component: no
// I/O, no subprocess awareness, unit-testable with synthetic clocks.
package watchdog

import "time"

// Watchdog tracks whether an external renderer's output is still growing.
// Callers feed it the summed size of the expected output file and its
// common suspension-partial siblings once per tick.
type Watchdog struct {
	startTS       time.Time
	graceSec      time.Duration
	idleSec       time.Duration
	minDeltaBytes int64

	haveBytes     bool
	lastBytes     int64
	lastGrowthTS  time.Time
}

// New constructs a Watchdog whose monitoring window begins at startTS.
func New(startTS time.Time, graceSec, idleSec time.Duration, minDeltaBytes int64) *Watchdog {
	return &Watchdog{
		startTS:       startTS,
		graceSec:      graceSec,
		idleSec:       idleSec,
		minDeltaBytes: minDeltaBytes,
	}
}

// Update records a new total-bytes observation at now. On the first call
// it seeds last_bytes unconditionally, and only records growth if bytes
// are already non-zero. On later calls, growth is recorded only if
// totalBytes has increased by at least minDeltaBytes since the last
// recorded growth.
func (w *Watchdog) Update(totalBytes int64, now time.Time) {
	if !w.haveBytes {
		w.haveBytes = true
		w.lastBytes = totalBytes
		if totalBytes > 0 {
			w.lastGrowthTS = now
		}
		return
	}
	if totalBytes >= w.lastBytes+w.minDeltaBytes {
		w.lastBytes = totalBytes
		w.lastGrowthTS = now
	}
}

// IsStuck reports whether the renderer should be considered stalled at
// now: false during the grace period, otherwise true iff no growth has
// been observed for at least idleSec.
func (w *Watchdog) IsStuck(now time.Time) bool {
	if now.Sub(w.startTS) < w.graceSec {
		return false
	}
	return now.Sub(w.lastGrowthTS) >= w.idleSec
}

// LastGrowth exposes the last-recorded growth timestamp, used by callers
// that want to log a byte-growth snapshot in a RenderStuck error reason.
func (w *Watchdog) LastGrowth() time.Time {
	return w.lastGrowthTS
}

// LastBytes exposes the last-recorded byte total.
func (w *Watchdog) LastBytes() int64 {
	return w.lastBytes
}
