package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"forge-coach/internal/domain"
)

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

type completionResponse struct {
	text string
	err  error
}

type fakeCompletion struct {
	readyErr  error
	responses []completionResponse
	calls     []domain.CompletionRequest
	block     bool
}

func (f *fakeCompletion) Backend() string { return "fake" }

func (f *fakeCompletion) Ready(_ context.Context) error { return f.readyErr }

func (f *fakeCompletion) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if len(f.responses) == 0 {
		return "", errors.New("no completion configured")
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx].text, f.responses[idx].err
}

func replies(texts ...string) *fakeCompletion {
	f := &fakeCompletion{}
	for _, t := range texts {
		f.responses = append(f.responses, completionResponse{text: t})
	}
	return f
}

type fakeRecorder struct {
	saved []domain.Exchange
	err   error
}

func (f *fakeRecorder) RecordExchange(_ context.Context, ex domain.Exchange) error {
	f.saved = append(f.saved, ex)
	return f.err
}

const testPersona = "You are the coach."

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{"/prefix/persona": testPersona}}
}

func newTestService(t *testing.T, llm CompletionClient, cfg Config, opts ...Option) *ForgeService {
	t.Helper()
	svc, err := NewForgeService(defaultParams(), llm, cfg, "/prefix", opts...)
	require.NoError(t, err)
	return svc
}

func userSays(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

func expectForgeError(t *testing.T, err error, code ErrorCode, reason string) *Error {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
	return usecaseErr
}

func segmentContents(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestNewForgeService_ValidatesDependencies(t *testing.T) {
	_, err := NewForgeService(nil, replies("ok"), DefaultConfig(), "/prefix")
	require.Error(t, err)

	_, err = NewForgeService(defaultParams(), nil, DefaultConfig(), "/prefix")
	require.Error(t, err)

	_, err = NewForgeService(defaultParams(), replies("ok"), DefaultConfig(), " / ")
	require.Error(t, err)

	bad := DefaultConfig()
	bad.RetryTemperature = 0.9
	_, err = NewForgeService(defaultParams(), replies("ok"), bad, "/prefix")
	require.ErrorContains(t, err, "retry temperature")
}

func TestForge_AcceptedPrimary(t *testing.T) {
	llm := replies("**Walk** for ten minutes.\nLog it tonight.")
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("I skipped the gym"), Mode: "guidance"})
	require.NoError(t, err)
	require.Equal(t, "Walk for ten minutes.\nLog it tonight.", out.Text)
	require.Equal(t, domain.ModeGuidance, out.Mode)
	require.Equal(t, 700, out.MaxOutputTokens)
	require.Equal(t, "gpt-4o-mini", out.Model)
	require.Equal(t, "fake", out.Backend)
	require.Empty(t, out.PromptVersion)
	require.Empty(t, out.ServerTime)

	require.Len(t, llm.calls, 1)
	require.Equal(t, 700, llm.calls[0].MaxOutputTokens)
	require.Equal(t, 0.6, llm.calls[0].Temperature)
	require.Equal(t, "gpt-4o-mini", llm.calls[0].Model)
}

func TestForge_ScenarioGreetingDefaultsToStrike(t *testing.T) {
	llm := replies(
		"Welcome to the forge.\nAction: log a win\nWhat brings you here? Why now?",
		"Welcome to the forge. It measures what you do.\nLog your first win today.",
	)
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	require.NoError(t, err)
	require.Equal(t, domain.ModeStrike, out.Mode)
	require.Equal(t, 220, out.MaxOutputTokens)
	require.NotContains(t, strings.ToLower(out.Text), "action:")
	require.NotContains(t, strings.ToLower(out.Text), "fallback:")
	require.LessOrEqual(t, strings.Count(out.Text, "?"), 1)

	require.Len(t, llm.calls, 2)
	require.Contains(t, segmentContents(llm.calls[0].Messages), greetingDirective(true))
}

func TestForge_ScenarioContextLineDefaults(t *testing.T) {
	llm := replies("Start with one rep. Log it.")
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{
		Messages: userSays("I don't know where to start"),
		Context:  &domain.UsageContext{Scores: &domain.Scores{Total: 0}},
	})
	require.NoError(t, err)
	require.Contains(t, segmentContents(llm.calls[0].Messages),
		"Context: range=today, level=1, streakDays=0, scores(total=0, body=0, mind=0, finance=0, status=0).")
}

func TestForge_ScenarioMissingCredential(t *testing.T) {
	llm := replies("never used")
	llm.readyErr = fmt.Errorf("openai: %w", domain.ErrMissingCredential)
	params := defaultParams()
	svc, err := NewForgeService(params, llm, DefaultConfig(), "/prefix")
	require.NoError(t, err)

	_, err = svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	expectForgeError(t, err, ErrorConfiguration, "missing_credential")
	require.Empty(t, llm.calls)
	require.Zero(t, params.calls)
}

func TestForge_CredentialLoadError(t *testing.T) {
	llm := replies("never used")
	llm.readyErr = errors.New("ssm unavailable")
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	expectForgeError(t, err, ErrorInternal, "credential_load_error")
	require.Empty(t, llm.calls)
}

func TestForge_ForbiddenPrimaryReplacedByCleanRetry(t *testing.T) {
	primary := "I can't access the app, sorry. Try walking."
	llm := replies(primary, "Open the app and log one rep. Do it now.")
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("list the habits")})
	require.NoError(t, err)
	require.NotEqual(t, primary, out.Text)
	require.Equal(t, "Open the app and log one rep. Do it now.", out.Text)
	require.Len(t, llm.calls, 2)
	require.Equal(t, 0.5, llm.calls[1].Temperature)
	require.Equal(t, llm.calls[0].MaxOutputTokens, llm.calls[1].MaxOutputTokens)
}

func TestForge_EscalatedToneQuestionTriggersRetry(t *testing.T) {
	llm := replies("You keep stalling. Why is that?", "You asked for it. Stop negotiating. Walk now.")
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("Be ruthless. I keep skipping.")})
	require.NoError(t, err)
	require.Len(t, llm.calls, 2)
	require.Equal(t, "You asked for it. Stop negotiating. Walk now.", out.Text)
	require.Contains(t, segmentContents(llm.calls[1].Messages), toneDirective(true))
}

func TestForge_EscalatedToneWithoutQuestionAccepted(t *testing.T) {
	llm := replies("Stop negotiating. Walk now.")
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("no bullshit, what do I do")})
	require.NoError(t, err)
	require.Len(t, llm.calls, 1)
	require.Equal(t, "Stop negotiating. Walk now.", out.Text)
}

func TestForge_OnlyLatestUserMessageDrivesSignals(t *testing.T) {
	llm := replies("Good. Walk now.")
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{Messages: []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "be ruthless"},
		{Role: domain.RoleAssistant, Content: "Fine. Walk."},
		{Role: domain.RoleUser, Content: "done, what next"},
	}})
	require.NoError(t, err)
	require.Contains(t, segmentContents(llm.calls[0].Messages), toneDirective(false))
	require.Contains(t, segmentContents(llm.calls[0].Messages), greetingDirective(false))
}

func TestForge_GenericRetryStillPreferred(t *testing.T) {
	generic := "Log one small win and take a 10-minute walk."
	llm := replies("Why? What? When?", generic)
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("help")})
	require.NoError(t, err)
	require.Equal(t, generic, out.Text)
}

func TestForge_DirtyRetryKeepsPrimary(t *testing.T) {
	llm := replies("Why now? Why not?", "I can’t access that. Sorry?")
	rec := &fakeRecorder{}
	svc := newTestService(t, llm, DefaultConfig(), WithRecorder(rec))

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("help")})
	require.NoError(t, err)
	require.Equal(t, "Why now? Why not?", out.Text)
	require.Len(t, rec.saved, 1)
	require.True(t, rec.saved[0].Retried)
	require.Equal(t, outcomeRetryDiscarded, rec.saved[0].RetryOutcome)
	require.Equal(t, []string{reasonExcessQuestions}, rec.saved[0].Rejections)
}

func TestForge_RetryFailureFallsBackToPrimary(t *testing.T) {
	llm := &fakeCompletion{responses: []completionResponse{
		{text: "Fallback: rest\nIt's common to feel overwhelmed. Walk."},
		{err: errors.New("provider down")},
	}}
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("I feel stuck")})
	require.NoError(t, err)
	require.Len(t, llm.calls, 2)
	require.Equal(t, "It's common to feel overwhelmed. Walk.", out.Text)
}

func TestForge_RetryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryEnabled = false
	llm := replies("Next action: walk. Then log it.")
	svc := newTestService(t, llm, cfg)

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("what now")})
	require.NoError(t, err)
	require.Len(t, llm.calls, 1)
	require.Equal(t, "Next walk. Then log it.", out.Text)
}

func TestForge_NeverMoreThanOneRetry(t *testing.T) {
	llm := replies("Why? How?", "Why? How?", "Clean answer.")
	svc := newTestService(t, llm, DefaultConfig())

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("help")})
	require.NoError(t, err)
	require.Len(t, llm.calls, 2)
	require.Equal(t, "Why? How?", out.Text)
}

func TestForge_RetryVariantPreservesEverythingButRules(t *testing.T) {
	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hey"},
		{Role: domain.RoleAssistant, Content: "Welcome."},
		{Role: domain.RoleUser, Content: "tell me the truth"},
	}
	llm := replies("Really? You sure?", "Truth: you stall. Walk now.")
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{
		Messages: history,
		Mode:     "deep",
		Context:  &domain.UsageContext{StreakDays: 4, Level: 3, Range: "7d"},
	})
	require.NoError(t, err)
	require.Len(t, llm.calls, 2)

	primary, retry := llm.calls[0].Messages, llm.calls[1].Messages
	require.Len(t, retry, len(primary))
	require.Equal(t, testPersona, primary[0].Content)
	require.Equal(t, buildModeRules(domain.ModeDeep), primary[1].Content)
	require.Equal(t, buildRetryRules(), retry[1].Content)

	withoutRules := func(m []domain.ChatMessage) []domain.ChatMessage {
		return append(append([]domain.ChatMessage{}, m[:1]...), m[2:]...)
	}
	if diff := cmp.Diff(withoutRules(primary), withoutRules(retry)); diff != "" {
		t.Fatalf("retry segments differ beyond the rules segment (-primary +retry):\n%s", diff)
	}
	require.Equal(t, history, primary[len(primary)-len(history):])
}

func TestForge_PrimaryFailureIsUpstreamError(t *testing.T) {
	llm := &fakeCompletion{responses: []completionResponse{{err: errors.New("rate limited by provider")}}}
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	ue := expectForgeError(t, err, ErrorUpstream, "completion_error")
	require.Contains(t, ue.Detail(), "rate limited by provider")
	require.Len(t, llm.calls, 1)
}

func TestForge_CompletionTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompletionTimeout = 20 * time.Millisecond
	llm := &fakeCompletion{block: true}
	svc := newTestService(t, llm, cfg)

	_, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	expectForgeError(t, err, ErrorUpstream, "completion_error")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestForge_CustomBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budgets = map[domain.Mode]int{domain.ModeStrike: 1, domain.ModeGuidance: 2, domain.ModeDeep: 3}
	llm := replies("Plan done.")
	svc := newTestService(t, llm, cfg)

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("plan my week"), Mode: "deep"})
	require.NoError(t, err)
	require.Equal(t, 3, out.MaxOutputTokens)
	require.Equal(t, 3, llm.calls[0].MaxOutputTokens)
}

func TestForge_DebugFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, replies("Walk."), cfg, WithClock(func() time.Time { return fixed }))

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("go")})
	require.NoError(t, err)
	require.Equal(t, defaultPromptVersion, out.PromptVersion)
	require.Equal(t, "2026-03-01T12:00:00Z", out.ServerTime)
}

func TestForge_ValidationErrors(t *testing.T) {
	llm := replies("unused")
	svc := newTestService(t, llm, DefaultConfig())

	_, err := svc.Forge(context.Background(), ForgeInput{Messages: []domain.ChatMessage{{Role: "tool", Content: "x"}}})
	expectForgeError(t, err, ErrorInvalidInput, "invalid_role")

	cfg := DefaultConfig()
	cfg.MaxMessages = 2
	svc = newTestService(t, llm, cfg)
	_, err = svc.Forge(context.Background(), ForgeInput{Messages: make([]domain.ChatMessage, 3)})
	expectForgeError(t, err, ErrorInvalidInput, "too_many_messages")

	require.Empty(t, llm.calls)
}

func TestForge_PersonaLoadErrors(t *testing.T) {
	svc, err := NewForgeService(&mockParams{err: errors.New("ssm unavailable")}, replies("ok"), DefaultConfig(), "/prefix")
	require.NoError(t, err)
	_, err = svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	expectForgeError(t, err, ErrorInternal, "persona_load_error")
}

func TestForge_PersonaLoadError_IsRetriedOnNextRequest(t *testing.T) {
	p := &transientParams{mockParams: defaultParams(), failOnce: true}
	svc, err := NewForgeService(p, replies("ok"), DefaultConfig(), "/prefix")
	require.NoError(t, err)

	_, err = svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	expectForgeError(t, err, ErrorInternal, "persona_load_error")

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Text)

	_, err = svc.Forge(context.Background(), ForgeInput{Messages: userSays("hi")})
	require.NoError(t, err)
	require.Equal(t, 1, p.calls, "persona must be cached after the first successful load")
}

func TestForge_RecorderFailureDoesNotFailRequest(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("dynamodb down")}
	svc := newTestService(t, replies("Walk."), DefaultConfig(), WithRecorder(rec))
	orig := newUUID
	newUUID = func() string { return "ex-1" }
	t.Cleanup(func() { newUUID = orig })

	out, err := svc.Forge(context.Background(), ForgeInput{Messages: userSays("go"), CorrelationID: "corr-1"})
	require.NoError(t, err)
	require.Equal(t, "Walk.", out.Text)
	require.Len(t, rec.saved, 1)
	require.Equal(t, "ex-1", rec.saved[0].ID)
	require.Equal(t, "corr-1", rec.saved[0].CorrelationID)
	require.False(t, rec.saved[0].Retried)
	require.Equal(t, outcomeAccepted, rec.saved[0].RetryOutcome)
}
