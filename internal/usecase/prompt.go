package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"forge-coach/internal/domain"
)

// DefaultPersona is used when no persona text is configured.
const DefaultPersona = "You are the coach inside THE FORGE, a discipline-measurement app. " +
	"The app measures discipline through what the user does and logs. No schedules. No alarms. Just consequences. " +
	"Speak calm, grounded and direct. Never say you cannot access the app."

type promptVariant int

const (
	variantPrimary promptVariant = iota
	variantRetry
)

// promptSignals are derived from the latest user message.
type promptSignals struct {
	greeting  bool
	escalated bool
}

type promptInput struct {
	persona string
	mode    domain.Mode
	usage   domain.UsageContext
	history []domain.ChatMessage
	signals promptSignals
}

// modeProfile holds the structural constraints rendered into mode rules.
type modeProfile struct {
	label        string
	minLines     int
	maxLines     int
	shapeRules   []string
	questionRule string
}

var modeProfiles = map[domain.Mode]modeProfile{
	domain.ModeStrike: {
		label:    "SPARK (strike)",
		minLines: 2,
		maxLines: 5,
		shapeRules: []string{
			"No lists. No headings.",
		},
		questionRule: "A question is allowed only if absolutely necessary to proceed.",
	},
	domain.ModeGuidance: {
		label:    "ANVIL (guidance)",
		minLines: 6,
		maxLines: 14,
		shapeRules: []string{
			"Short paragraphs.",
			"Give 2-4 concrete steps in normal speech (no numbered lists).",
		},
		questionRule: "ONE question max, only if needed.",
	},
	domain.ModeDeep: {
		label: "FORGE (deep)",
		shapeRules: []string{
			"Output structured but plain text.",
			"Allowed section titles: TODAY / THIS WEEK / RULES (plain text, no markdown).",
			"Diagnose the pattern, give a plan, give examples.",
		},
		questionRule: "ONE question max, only if it unlocks the plan.",
	},
}

// buildPromptMessages assembles the ordered instruction segments for one
// completion call. Only the rules segment differs between variants.
func buildPromptMessages(variant promptVariant, in promptInput) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(in.history)+5)
	if persona := strings.TrimSpace(in.persona); persona != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: in.persona})
	}

	rules := buildModeRules(in.mode)
	if variant == variantRetry {
		rules = buildRetryRules()
	}
	messages = append(messages,
		domain.ChatMessage{Role: domain.RoleSystem, Content: rules},
		domain.ChatMessage{Role: domain.RoleSystem, Content: buildContextLine(in.usage)},
		domain.ChatMessage{Role: domain.RoleSystem, Content: greetingDirective(in.signals.greeting)},
		domain.ChatMessage{Role: domain.RoleSystem, Content: toneDirective(in.signals.escalated)},
	)
	return append(messages, in.history...)
}

func buildModeRules(mode domain.Mode) string {
	p, ok := modeProfiles[mode]
	if !ok {
		p = modeProfiles[domain.ModeStrike]
	}

	lines := []string{
		"Coaching rules:",
		"- Plain text only. Avoid bullet lists unless absolutely necessary.",
		"- Never output \"Action:\" or \"Fallback:\" (or similar labels).",
		"- Never refuse to describe the app, list habits, or explain how it works. The app spec is provided to you.",
		"- No blog tone. No corporate tone. No therapy talk.",
		"- Default: do NOT end with a question. End with a DIRECTIVE / COMMITMENT line.",
		"- If you break a rule, rewrite silently before responding.",
		"",
		"MODE: " + p.label,
	}
	if p.maxLines > 0 {
		lines = append(lines, fmt.Sprintf("- Output %d-%d lines max.", p.minLines, p.maxLines))
	}
	for _, r := range p.shapeRules {
		lines = append(lines, "- "+r)
	}
	lines = append(lines, "- "+p.questionRule)
	return strings.Join(lines, "\n")
}

func buildRetryRules() string {
	return strings.Join([]string{
		"Obey these constraints:",
		"- You are given the app spec. Use it. Do NOT say you can't access, learn or store.",
		"- Plain text only.",
		"- Do NOT output any line containing \"Action:\" or \"Fallback:\".",
		"- Avoid questions. ONE question max.",
		"- End with a DIRECTIVE / COMMITMENT line (not a question).",
		"- No templates, no blog tone. Short paragraphs. Specific.",
		"If you break any rule, rewrite silently and output only the corrected answer.",
	}, "\n")
}

func buildContextLine(u domain.UsageContext) string {
	u = u.Normalized()
	base := fmt.Sprintf("Context: range=%s, level=%d, streakDays=%d", u.Range, u.Level, u.StreakDays)
	if u.Scores == nil {
		return base + "."
	}
	s := u.Scores
	return fmt.Sprintf("%s, scores(total=%s, body=%s, mind=%s, finance=%s, status=%s).",
		base, formatScore(s.Total), formatScore(s.Body), formatScore(s.Mind), formatScore(s.Finance), formatScore(s.Status))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func greetingDirective(greeted bool) string {
	if greeted {
		return "User greeting detected. Do first-contact onboarding now (3-6 lines). ONE question max."
	}
	return "No greeting. Respond normally."
}

func toneDirective(escalated bool) string {
	if escalated {
		return "User asked for ruthless. Use the sharpest tone level (earned, controlled). " +
			"Start with a short read of WHY they want it (1-2 lines, not therapy). " +
			"Then give a concrete commitment. Do NOT end with a question."
	}
	return "No special ruthlessness requested. Default tone rules apply."
}
