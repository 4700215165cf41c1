package domain

import (
	"errors"
	"fmt"
	"time"
)

// DataGapError reports missing calendar dates in required history. Recoverable:
// callers skip the affected cutoff or day and log.
type DataGapError struct {
	From    time.Time
	To      time.Time
	Missing int
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("history gap: %d missing dates between %s and %s",
		e.Missing, e.From.Format("2006-01-02"), e.To.Format("2006-01-02"))
}

// ForecasterError wraps a model failure at one backtest cutoff. Isolated per
// cutoff: the harness logs it and continues with the remaining cutoffs.
type ForecasterError struct {
	Model  string
	Cutoff time.Time
	Stage  string // "fit" or "predict"
	Err    error
}

func (e *ForecasterError) Error() string {
	return fmt.Sprintf("forecaster %s failed at cutoff %s during %s: %v",
		e.Model, e.Cutoff.Format("2006-01-02"), e.Stage, e.Err)
}

func (e *ForecasterError) Unwrap() error { return e.Err }

// GuardrailError reports an output row violating a safety invariant after the
// final guardrail pass. Structurally unreachable; if seen, it is a logic
// defect and the run must abort.
type GuardrailError struct {
	DS     time.Time
	Reason string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail violation on %s: %s", e.DS.Format("2006-01-02"), e.Reason)
}

// ErrInsufficientEvidence marks an uplift window with zero qualifying event
// days. Never surfaces to callers: the estimator converts it to a prior with
// confidence "missing".
var ErrInsufficientEvidence = errors.New("insufficient event evidence")
