// Package lifecycle defines the job state machine's names, the per-stage
// retry configuration, and the outcome variant every worker claim reduces
// to. No exception is thrown across a claim boundary: a worker computes an
// Outcome and lifecycle applies it to the store.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/MindDevastation/factory-vm/store"
)

// Job states, exactly as enumerated in the state machine.
const (
	StateDraft            = "DRAFT"
	StateWaitingInputs    = "WAITING_INPUTS"
	StateReadyForRender   = "READY_FOR_RENDER"
	StateFetchingInputs   = "FETCHING_INPUTS"
	StateRendering        = "RENDERING"
	StateRenderFailed     = "RENDER_FAILED"
	StateQARunning        = "QA_RUNNING"
	StateQAFailed         = "QA_FAILED"
	StateUploading        = "UPLOADING"
	StateUploadFailed     = "UPLOAD_FAILED"
	StateWaitApproval     = "WAIT_APPROVAL"
	StateApproved         = "APPROVED"
	StateRejected         = "REJECTED"
	StatePublished        = "PUBLISHED"
	StateCleaned          = "CLEANED"
	StateCancelled        = "CANCELLED"
)

// Stage names used for per-stage retry configuration and metrics labels.
// Coarser than state: FETCHING_INPUTS and RENDERING are both "render".
const (
	StageImport  = "import"
	StageRender  = "render"
	StageQA      = "qa"
	StageUpload  = "upload"
)

// TerminalStates is the set of states from which no further worker-driven
// transition is possible; lock holder and retry-at must be null here.
var TerminalStates = map[string]bool{
	StateCancelled: true,
	StateRejected:  true,
	StatePublished: true,
	StateCleaned:   true,
}

func IsTerminal(state string) bool { return TerminalStates[state] }

// StageConfig carries the per-stage max-attempts/backoff knobs as
// configuration, plus the state a retry lands back in and the state a
// terminal failure lands in.
type StageConfig struct {
	MaxAttempts  int
	Backoff      time.Duration
	RetryState   string
	RetryStage   string
	TerminalState string
}

// Outcome is the explicit result-type variant every worker reduces a
// single claim's work to instead of propagating raw errors across the
// claim boundary. Exactly one of the constructors below should be used
// to build one.
type Outcome struct {
	kind   outcomeKind
	reason string
}

type outcomeKind int

const (
	kindOK outcomeKind = iota
	kindRetry
	kindFailTerminal
	kindCancelled
)

func OK() Outcome                        { return Outcome{kind: kindOK} }
func RetryWith(reason string) Outcome    { return Outcome{kind: kindRetry, reason: reason} }
func FailTerminal(reason string) Outcome { return Outcome{kind: kindFailTerminal, reason: reason} }
func Cancelled() Outcome                 { return Outcome{kind: kindCancelled} }

func (o Outcome) IsOK() bool        { return o.kind == kindOK }
func (o Outcome) IsRetry() bool     { return o.kind == kindRetry }
func (o Outcome) IsTerminal() bool  { return o.kind == kindFailTerminal }
func (o Outcome) IsCancelled() bool { return o.kind == kindCancelled }
func (o Outcome) Reason() string    { return o.reason }

// Apply reduces a non-OK, non-cancelled Outcome to store mutations: it
// increments the attempt counter, then either schedules a retry (clearing
// the lock, setting retry-at = now+backoff, restoring the stage's ready
// state) or marks the stage's terminal failed state. Cancellation is
// never produced here -- a worker that observes cancellation calls
// store.Cancel directly and returns, never routing through Apply.
func Apply(ctx context.Context, s *store.Store, jobID int64, cfg StageConfig, outcome Outcome, now time.Time) error {
	if outcome.IsOK() || outcome.IsCancelled() {
		return nil
	}
	attempt, err := s.IncrementAttempt(ctx, jobID, now)
	if err != nil {
		return fmt.Errorf("lifecycle: increment attempt: %w", err)
	}

	if outcome.IsTerminal() || attempt >= cfg.MaxAttempts {
		reason := outcome.Reason()
		if attempt >= cfg.MaxAttempts && !outcome.IsTerminal() {
			reason = fmt.Sprintf("attempt %d/%d: %s", attempt, cfg.MaxAttempts, reason)
		}
		return s.FailTerminal(ctx, jobID, cfg.TerminalState, reason, now)
	}

	reason := fmt.Sprintf("attempt %d/%d: %s", attempt, cfg.MaxAttempts, outcome.Reason())
	return s.ScheduleRetry(ctx, jobID, cfg.RetryState, cfg.RetryStage, reason, cfg.Backoff, now)
}

// ReclaimStale sweeps FETCHING_INPUTS/RENDERING rows whose lease has
// expired and applies the render stage's retry policy to each, recovering
// deterministically from a crashed orchestrator worker.
func ReclaimStale(ctx context.Context, s *store.Store, cfg StageConfig, leaseTTL time.Duration, now time.Time) (int, error) {
	stale, err := s.ReclaimStale(ctx, leaseTTL, now)
	if err != nil {
		return 0, err
	}
	for _, j := range stale {
		outcome := RetryWith(fmt.Sprintf("reclaimed stale lease from state %s", j.State))
		if err := Apply(ctx, s, j.ID, cfg, outcome, now); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
