// Package progress throttles how often a render's percent-complete is
// written to the store. Ported from the teacher's bucketed/throttled
// report pattern (track progress, only flush on a meaningful change or
// after a time floor) but rebuilt as a pure gate plus a thin store-writing
// wrapper, since this system reports into its own SQLite store rather
// than a remote callback URL.
package progress

import (
	"context"
	"time"

	"github.com/MindDevastation/factory-vm/store"
)

const (
	minDeltaPct     = 0.5
	maxReportPeriod = 2 * time.Second
)

// Reporter throttles writes of one job's progress to the store: at most
// one write per maxReportPeriod, unless percent grew by at least
// minDeltaPct since the last write, in which case it writes immediately.
type Reporter struct {
	store *store.Store
	jobID int64

	lastPct  float64
	lastSent time.Time
	sent     bool
}

func NewReporter(s *store.Store, jobID int64) *Reporter {
	return &Reporter{store: s, jobID: jobID}
}

// shouldReport is the pure throttle gate, kept separate from the store
// write so it is trivially unit-testable without a database.
func shouldReport(newPct, lastPct float64, everSent bool, lastSent, now time.Time) bool {
	if !everSent {
		return true
	}
	if newPct-lastPct >= minDeltaPct {
		return true
	}
	return now.Sub(lastSent) >= maxReportPeriod
}

// Report writes pct/text to the store if the throttle gate allows it at
// time now. Returns whether a write occurred.
func (r *Reporter) Report(ctx context.Context, pct float64, text string, now time.Time) (bool, error) {
	if !shouldReport(pct, r.lastPct, r.sent, r.lastSent, now) {
		return false, nil
	}
	if err := r.store.UpdateProgress(ctx, r.jobID, pct, text, now); err != nil {
		return false, err
	}
	r.lastPct, r.lastSent, r.sent = pct, now, true
	return true, nil
}
