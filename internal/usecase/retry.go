package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"forge-coach/internal/domain"
)

type forgeState int

const (
	stateDrafting forgeState = iota
	statePrimarySent
	stateSanitized
	stateAccepted
	stateRetryNeeded
	stateRetrySent
	stateRetrySanitized
	stateFinalized
)

func (s forgeState) String() string {
	switch s {
	case stateDrafting:
		return "drafting"
	case statePrimarySent:
		return "primary_sent"
	case stateSanitized:
		return "sanitized"
	case stateAccepted:
		return "accepted"
	case stateRetryNeeded:
		return "retry_needed"
	case stateRetrySent:
		return "retry_sent"
	case stateRetrySanitized:
		return "retry_sanitized"
	case stateFinalized:
		return "finalized"
	}
	return "unknown"
}

// resolution is everything the state machine learned while producing text.
type resolution struct {
	text    string
	verdict verdict
	retried bool
	outcome string
}

// resolve drives one request from the primary completion to the final,
// hard-guarded text. Only a primary completion failure is returned as an
// error; every other path ends in some text.
func (s *ForgeService) resolve(ctx context.Context, mode domain.Mode, in promptInput, log *zap.Logger) (resolution, error) {
	var (
		res       resolution
		raw       string
		primary   string
		retries   int
		escalated = in.signals.escalated
		rules     = s.cfg.Rules
	)

	for state := stateDrafting; state != stateFinalized; {
		log.Debug("forge state", zap.Stringer("state", state))
		switch state {
		case stateDrafting:
			var err error
			raw, err = s.complete(ctx, attemptPrimary, mode, s.cfg.PrimaryTemperature, buildPromptMessages(variantPrimary, in))
			if err != nil {
				return resolution{}, newError(ErrorUpstream, "completion_error", err)
			}
			state = statePrimarySent

		case statePrimarySent:
			primary = rules.Sanitize(raw)
			state = stateSanitized

		case stateSanitized:
			res.verdict = evaluate(rules, primary, escalated)
			switch {
			case res.verdict.accepted():
				state = stateAccepted
			case !s.cfg.RetryEnabled || retries >= maxQualityRetries:
				log.Info("candidate rejected, retry disabled", zap.Strings("reasons", res.verdict.reasons))
				res.text, res.outcome = primary, outcomeRetryDisabled
				state = stateFinalized
			default:
				log.Info("candidate rejected, retrying", zap.Strings("reasons", res.verdict.reasons))
				state = stateRetryNeeded
			}

		case stateAccepted:
			res.text, res.outcome = primary, outcomeAccepted
			state = stateFinalized

		case stateRetryNeeded:
			retries++
			res.retried = true
			var err error
			raw, err = s.complete(ctx, attemptRetry, mode, s.cfg.RetryTemperature, buildPromptMessages(variantRetry, in))
			if err != nil {
				log.Warn("quality retry failed, keeping primary candidate", zap.Error(err))
				res.text, res.outcome = primary, outcomeRetryFailed
				state = stateFinalized
				break
			}
			state = stateRetrySent

		case stateRetrySent:
			raw = rules.Sanitize(raw)
			state = stateRetrySanitized

		case stateRetrySanitized:
			if preferRetry(rules, raw) {
				res.text, res.outcome = raw, outcomeRetryChosen
			} else {
				res.text, res.outcome = primary, outcomeRetryDiscarded
			}
			state = stateFinalized
		}
	}

	if res.retried {
		s.metrics.ObserveRetry(res.outcome)
	}
	res.text = rules.HardGuard(res.text)
	return res, nil
}

// complete runs one bounded completion call.
func (s *ForgeService) complete(ctx context.Context, attempt string, mode domain.Mode, temperature float64, messages []domain.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.llm.Complete(ctx, domain.CompletionRequest{
		Model:           s.cfg.Model,
		Messages:        messages,
		MaxOutputTokens: s.cfg.Budgets[mode],
		Temperature:     temperature,
	})
	s.metrics.ObserveCompletion(attempt, time.Since(start), err)
	return raw, err
}
