package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forge-coach/internal/domain"
	"forge-coach/internal/guard"
	"forge-coach/internal/observability"
)

// maxQualityRetries bounds the stricter re-asks issued per request.
const maxQualityRetries = 1

const (
	attemptPrimary = "primary"
	attemptRetry   = "retry"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// CompletionClient is a text-in, text-out completion backend.
type CompletionClient interface {
	Backend() string
	// Ready resolves credentials without calling the model. A missing
	// credential must satisfy errors.Is(err, domain.ErrMissingCredential).
	Ready(ctx context.Context) error
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// ExchangeRecorder persists finalized exchanges.
type ExchangeRecorder interface {
	RecordExchange(ctx context.Context, ex domain.Exchange) error
}

type ForgeService struct {
	params      ParamGetter
	llm         CompletionClient
	cfg         Config
	paramPrefix string
	logger      *zap.Logger
	metrics     *observability.Metrics
	recorder    ExchangeRecorder
	now         func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	persona     string
}

type Option func(*ForgeService)

func WithLogger(l *zap.Logger) Option {
	return func(s *ForgeService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *ForgeService) {
		s.metrics = m
	}
}

// WithRecorder enables the best-effort exchange audit log.
func WithRecorder(r ExchangeRecorder) Option {
	return func(s *ForgeService) {
		s.recorder = r
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ForgeService) {
		if now != nil {
			s.now = now
		}
	}
}

type ForgeInput struct {
	Messages      []domain.ChatMessage
	Mode          string
	Context       *domain.UsageContext
	CorrelationID string
}

type ForgeOutput struct {
	Text            string
	Mode            domain.Mode
	MaxOutputTokens int
	Model           string
	Backend         string

	// Set only when Config.Debug is enabled.
	PromptVersion string
	ServerTime    string
}

func NewForgeService(p ParamGetter, llm CompletionClient, cfg Config, paramPrefix string, opts ...Option) (*ForgeService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	s := &ForgeService{
		params:      p,
		llm:         llm,
		cfg:         cfg,
		paramPrefix: paramPrefix,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ForgeService) Forge(ctx context.Context, in ForgeInput) (ForgeOutput, error) {
	mode := guard.NormalizeMode(in.Mode)
	log := s.logger.With(
		zap.String("correlation_id", in.CorrelationID),
		zap.String("mode", string(mode)),
		zap.String("backend", s.llm.Backend()),
	)

	out, res, err := s.forge(ctx, mode, in, log)
	if err != nil {
		var ue *Error
		if errors.As(err, &ue) {
			log.Warn("forge request failed", zap.String("code", string(ue.Code)), zap.String("reason", ue.Reason), zap.Error(ue.Err))
		}
		s.metrics.ObserveRequest(string(mode), "error")
		return ForgeOutput{}, err
	}
	s.metrics.ObserveRequest(string(mode), res.outcome)
	s.record(ctx, in.CorrelationID, out, res, log)
	return out, nil
}

func (s *ForgeService) forge(ctx context.Context, mode domain.Mode, in ForgeInput, log *zap.Logger) (ForgeOutput, resolution, error) {
	if err := validateMessages(in.Messages, s.cfg.MaxMessages); err != nil {
		return ForgeOutput{}, resolution{}, err
	}
	if err := s.llm.Ready(ctx); err != nil {
		if errors.Is(err, domain.ErrMissingCredential) {
			return ForgeOutput{}, resolution{}, newError(ErrorConfiguration, "missing_credential", err)
		}
		return ForgeOutput{}, resolution{}, newError(ErrorInternal, "credential_load_error", err)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ForgeOutput{}, resolution{}, newError(ErrorInternal, "persona_load_error", err)
	}

	var usage domain.UsageContext
	if in.Context != nil {
		usage = *in.Context
	}
	lastUser := domain.LastUserContent(in.Messages)

	s.cacheMu.RLock()
	persona := s.persona
	s.cacheMu.RUnlock()

	res, err := s.resolve(ctx, mode, promptInput{
		persona: persona,
		mode:    mode,
		usage:   usage,
		history: in.Messages,
		signals: promptSignals{
			greeting:  s.cfg.Rules.IsGreeting(lastUser),
			escalated: s.cfg.Rules.WantsEscalatedTone(lastUser),
		},
	}, log)
	if err != nil {
		return ForgeOutput{}, resolution{}, err
	}

	out := ForgeOutput{
		Text:            res.text,
		Mode:            mode,
		MaxOutputTokens: s.cfg.Budgets[mode],
		Model:           s.cfg.Model,
		Backend:         s.llm.Backend(),
	}
	if s.cfg.Debug {
		out.PromptVersion = s.cfg.PromptVersion
		out.ServerTime = s.now().UTC().Format(time.RFC3339Nano)
	}
	return out, res, nil
}

func validateMessages(messages []domain.ChatMessage, limit int) error {
	if len(messages) > limit {
		return newError(ErrorInvalidInput, "too_many_messages", fmt.Errorf("got %d messages, limit is %d", len(messages), limit))
	}
	for i, m := range messages {
		if !domain.ValidRole(m.Role) {
			return newError(ErrorInvalidInput, "invalid_role", fmt.Errorf("message %d has role %q", i, m.Role))
		}
	}
	return nil
}

func (s *ForgeService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	persona, err := s.params.GetParameter(ctx, s.paramPrefix+"/persona")
	if err != nil {
		return fmt.Errorf("usecase: load persona: %w", err)
	}
	s.persona = persona
	s.cacheLoaded = true
	return nil
}

func (s *ForgeService) record(ctx context.Context, correlationID string, out ForgeOutput, res resolution, log *zap.Logger) {
	if s.recorder == nil {
		return
	}
	now := s.now().UTC()
	ex := domain.Exchange{
		ID:            newUUID(),
		CorrelationID: correlationID,
		Mode:          out.Mode,
		Backend:       out.Backend,
		Model:         out.Model,
		Retried:       res.retried,
		RetryOutcome:  res.outcome,
		Rejections:    res.verdict.reasons,
		Text:          out.Text,
		PromptVersion: s.cfg.PromptVersion,
		CreatedAt:     now.Format(time.RFC3339Nano),
	}
	if err := s.recorder.RecordExchange(ctx, ex); err != nil {
		log.Warn("exchange audit write failed", zap.String("exchange_id", ex.ID), zap.Error(err))
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
