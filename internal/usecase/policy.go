package usecase

import (
	"strings"

	"forge-coach/internal/guard"
)

// Rejection reasons reported in logs, metrics and the exchange audit record.
const (
	reasonForbiddenSnippet  = "forbidden_snippet"
	reasonTooGeneric        = "too_generic"
	reasonExcessQuestions   = "excess_questions"
	reasonEscalatedQuestion = "escalated_question"
)

// Retry outcomes.
const (
	outcomeAccepted       = "accepted"
	outcomeRetryDisabled  = "retry_disabled"
	outcomeRetryChosen    = "retry_chosen"
	outcomeRetryDiscarded = "retry_discarded"
	outcomeRetryFailed    = "retry_failed"
)

// verdict is the acceptance decision for one sanitized candidate. An empty
// reason list means the candidate is accepted.
type verdict struct {
	reasons []string
}

func (v verdict) accepted() bool {
	return len(v.reasons) == 0
}

// evaluate runs every acceptance check against a primary candidate. An
// escalated-tone request must not be answered with a question.
func evaluate(rules guard.Rules, text string, escalated bool) verdict {
	var v verdict
	if rules.ContainsForbiddenSnippet(text) {
		v.reasons = append(v.reasons, reasonForbiddenSnippet)
	}
	if rules.LooksTooGeneric(text) {
		v.reasons = append(v.reasons, reasonTooGeneric)
	}
	if rules.HasExcessQuestions(text) {
		v.reasons = append(v.reasons, reasonExcessQuestions)
	}
	if escalated && strings.Contains(text, "?") {
		v.reasons = append(v.reasons, reasonEscalatedQuestion)
	}
	return v
}

// preferRetry decides whether a retry candidate replaces the primary one.
// Genericness is not re-checked: a clean generic answer beats a dirty one.
func preferRetry(rules guard.Rules, retry string) bool {
	return !rules.ContainsForbiddenSnippet(retry) && !rules.HasExcessQuestions(retry)
}
