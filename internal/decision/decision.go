// Package decision maps a raw suspicion score from the scoring engine to
// an actionable (prediction, severity) pair. Decide is pure: same inputs,
// same decision, no hidden state.
package decision

import "strings"

// Severity grades how strongly a suspicious score should be surfaced.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "low"
	}
}

// PredictionNormal is the prediction for a non-suspicious score.
const PredictionNormal = "normal"

// defaultBehaviorTag is used when the upstream model flags a batch but
// supplies no more specific label.
const defaultBehaviorTag = "cheating behavior"

// Severity band cutoffs. These are part of the decision contract, not
// deployment configuration; only the suspicion threshold is tunable.
// Boundaries are inclusive on the upper tier: a score of exactly 0.7 is
// high.
const (
	highCutoff   = 0.7
	mediumCutoff = 0.45
)

// Decision is the classification of a single inference result.
type Decision struct {
	Prediction string
	Severity   Severity
	Confidence float64 // echo of the raw score
}

// Actionable reports whether the decision should be persisted and alerted.
func (d Decision) Actionable() bool {
	return d.Prediction != PredictionNormal
}

// Decide classifies a raw score against the suspicion threshold.
//
// A score below the threshold is normal with low severity regardless of
// the upstream label. At or above it, the severity band is chosen by the
// fixed cutoffs, and the prediction is the upstream label when it names a
// behavior, otherwise the generic cheating tag.
func Decide(score float64, label string, threshold float64) Decision {
	if score < threshold {
		return Decision{
			Prediction: PredictionNormal,
			Severity:   SeverityLow,
			Confidence: score,
		}
	}

	severity := SeverityLow
	switch {
	case score >= highCutoff:
		severity = SeverityHigh
	case score >= mediumCutoff:
		severity = SeverityMedium
	}

	prediction := defaultBehaviorTag
	if l := strings.TrimSpace(label); l != "" && !strings.EqualFold(l, PredictionNormal) {
		prediction = l
	}

	return Decision{
		Prediction: prediction,
		Severity:   severity,
		Confidence: score,
	}
}
