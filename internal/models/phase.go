package models

import "time"

// Verdict is a three-level pass/fail classification for a test phase
// or an individual statistic.
type Verdict string

const (
	VerdictExcellent  Verdict = "excellent"
	VerdictAcceptable Verdict = "acceptable"
	VerdictDegraded   Verdict = "degrading"

	// VerdictSimulated marks a phase whose figures are placeholders
	// rather than measurements (power analysis without a meter).
	VerdictSimulated Verdict = "simulated"
)

// PhaseResult captures the outcome of one performance-test phase.
// Completed is false when the phase was cut short by cancellation; the
// verdict then reflects whatever samples had accumulated.
type PhaseResult struct {
	Phase     string
	Verdict   Verdict
	Summary   string
	Samples   int
	Elapsed   time.Duration
	Completed bool
}
