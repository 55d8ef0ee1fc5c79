package guard

import (
	"regexp"
	"strings"

	"forge-coach/internal/domain"
)

var (
	fencedBlock   = regexp.MustCompile("(?s)```.*?```")
	backticks     = regexp.MustCompile("`+")
	headingMarker = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	asterisks     = regexp.MustCompile(`\*+`)
	underscores   = regexp.MustCompile(`_+`)
)

// NormalizeMode maps anything other than an exact mode token to strike.
func NormalizeMode(mode string) domain.Mode {
	switch m := domain.Mode(mode); m {
	case domain.ModeStrike, domain.ModeGuidance, domain.ModeDeep:
		return m
	}
	return domain.ModeStrike
}

// IsGreeting reports whether text is, or opens with, a bare greeting token.
func (r Rules) IsGreeting(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, g := range r.Greetings {
		if t == g || strings.HasPrefix(t, g+" ") {
			return true
		}
	}
	return false
}

// WantsEscalatedTone reports whether the user asked for blunter replies.
func (r Rules) WantsEscalatedTone(text string) bool {
	return containsAny(text, r.EscalationPhrases)
}

// StripFormatting removes markdown structure and keeps the words.
func StripFormatting(text string) string {
	s := fencedBlock.ReplaceAllString(text, "")
	s = backticks.ReplaceAllString(s, "")
	s = headingMarker.ReplaceAllString(s, "")
	s = asterisks.ReplaceAllString(s, "")
	s = underscores.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// RemoveLabeledLines drops every line that opens with a forbidden label.
func (r Rules) RemoveLabeledLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !r.hasLabelPrefix(line) {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (r Rules) hasLabelPrefix(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	for _, label := range r.ForbiddenLabels {
		if strings.HasPrefix(l, label) {
			return true
		}
	}
	return false
}

// ContainsForbiddenSnippet reports whether text holds any disallowed phrase.
func (r Rules) ContainsForbiddenSnippet(text string) bool {
	return containsAny(text, r.ForbiddenSnippets)
}

// LooksTooGeneric reports whether both halves of any generic pattern appear.
func (r Rules) LooksTooGeneric(text string) bool {
	t := strings.ToLower(text)
	for _, p := range r.GenericPatterns {
		if strings.Contains(t, p[0]) && strings.Contains(t, p[1]) {
			return true
		}
	}
	return false
}

// HasExcessQuestions reports whether text carries MaxQuestions or more
// question marks.
func (r Rules) HasExcessQuestions(text string) bool {
	return strings.Count(text, "?") >= r.MaxQuestions
}

// Sanitize is the cleanup applied to every raw completion.
func (r Rules) Sanitize(raw string) string {
	return r.RemoveLabeledLines(StripFormatting(raw))
}

// HardGuard strips forbidden labels wherever they still appear, including
// mid-line.
func (r Rules) HardGuard(text string) string {
	patterns := r.labelPatterns
	if len(patterns) != len(r.ForbiddenLabels) {
		patterns = compileLabels(r.ForbiddenLabels)
	}
	for _, re := range patterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

func containsAny(text string, needles []string) bool {
	t := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
