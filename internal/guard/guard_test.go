package guard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"forge-coach/internal/domain"
)

func TestNormalizeMode(t *testing.T) {
	cases := map[string]domain.Mode{
		"strike":   domain.ModeStrike,
		"guidance": domain.ModeGuidance,
		"deep":     domain.ModeDeep,
		"bogus":    domain.ModeStrike,
		"":         domain.ModeStrike,
		"Deep":     domain.ModeStrike,
		" deep":    domain.ModeStrike,
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeMode(in), "input=%q", in)
	}
}

func TestIsGreeting(t *testing.T) {
	r := DefaultRules()
	cases := []struct {
		text string
		want bool
	}{
		{"hi", true},
		{"Hey there", true},
		{"  HELLO  ", true},
		{"yo what's up", true},
		{"sup", true},
		{"theyhey", false},
		{"hiking tips", false},
		{"well hello", false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, r.IsGreeting(tc.text), "text=%q", tc.text)
	}
}

func TestWantsEscalatedTone(t *testing.T) {
	r := DefaultRules()
	require.True(t, r.WantsEscalatedTone("Be RUTHLESS with me"))
	require.True(t, r.WantsEscalatedTone("ok, no bullshit. what now"))
	require.True(t, r.WantsEscalatedTone("just tell me the truth"))
	require.False(t, r.WantsEscalatedTone("be kind please"))
	require.False(t, r.WantsEscalatedTone(""))
}

func TestStripFormatting(t *testing.T) {
	out := StripFormatting("**bold** and `code` and # Heading")
	require.NotContains(t, out, "*")
	require.NotContains(t, out, "`")
	require.False(t, strings.HasPrefix(out, "#"))
	require.Contains(t, out, "bold")
	require.Contains(t, out, "code")
	require.Contains(t, out, "Heading")
}

func TestStripFormatting_HeadingsAndFences(t *testing.T) {
	in := "## Today\nDo the work.\n```go\nfmt.Println(1)\n```\n__Done__ _now_\n"
	require.Equal(t, "Today\nDo the work.\n\nDone now", StripFormatting(in))
}

func TestRemoveLabeledLines(t *testing.T) {
	r := DefaultRules()
	in := "Walk now.\nAction: do X\n  fallback: do Y\nLog it."
	out := r.RemoveLabeledLines(in)
	require.Equal(t, "Walk now.\nLog it.", out)
	require.NotContains(t, strings.ToLower(out), "do x")
	require.Equal(t, out, r.RemoveLabeledLines(out))
}

func TestRemoveLabeledLines_KeepsMidLineLabels(t *testing.T) {
	r := DefaultRules()
	require.Equal(t, "Next Action: walk", r.RemoveLabeledLines("Next Action: walk"))
}

func TestContainsForbiddenSnippet(t *testing.T) {
	r := DefaultRules()
	require.True(t, r.ContainsForbiddenSnippet("Honestly, I CAN'T ACCESS the app."))
	require.True(t, r.ContainsForbiddenSnippet("I can’t learn new things"))
	require.True(t, r.ContainsForbiddenSnippet("It's common to feel overwhelmed."))
	require.True(t, r.ContainsForbiddenSnippet("step one. action: go"))
	require.False(t, r.ContainsForbiddenSnippet("Walk for ten minutes. Log it."))
}

func TestLooksTooGeneric(t *testing.T) {
	r := DefaultRules()
	require.True(t, r.LooksTooGeneric("Log one small win and take a 10-minute walk."))
	require.True(t, r.LooksTooGeneric("What’s your focus today: body, mind, or finance?"))
	require.False(t, r.LooksTooGeneric("Log one small win."))
	require.False(t, r.LooksTooGeneric(""))
}

func TestHasExcessQuestions(t *testing.T) {
	r := DefaultRules()
	require.False(t, r.HasExcessQuestions("No questions."))
	require.False(t, r.HasExcessQuestions("One question?"))
	require.True(t, r.HasExcessQuestions("Why? How?"))
	require.True(t, r.HasExcessQuestions("???"))
}

func TestHardGuard(t *testing.T) {
	r := DefaultRules()
	require.Equal(t, "Next walk now. then rest", r.HardGuard("Next ACTION:   walk now. fallback: then rest"))
	require.Equal(t, "clean", r.HardGuard("  clean  "))
}

func TestSanitize(t *testing.T) {
	r := DefaultRules()
	out := r.Sanitize("**Do it.**\nAction: walk\nCommit now.")
	require.Equal(t, "Do it.\nCommit now.", out)
}

func TestParseRules_OverridesOnlyGivenKeys(t *testing.T) {
	r, err := ParseRules([]byte(`
forbidden_snippets:
  - "as an ai"
generic_patterns:
  - ["drink water", "sleep early"]
`))
	require.NoError(t, err)
	require.Equal(t, []string{"as an ai"}, r.ForbiddenSnippets)
	require.Equal(t, []Pair{{"drink water", "sleep early"}}, r.GenericPatterns)
	require.Equal(t, DefaultRules().Greetings, r.Greetings)
	require.Equal(t, 2, r.MaxQuestions)
	require.True(t, r.LooksTooGeneric("Drink water and sleep early."))
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("max_questions: 0"))
	require.ErrorContains(t, err, "max_questions")

	_, err = ParseRules([]byte(`forbidden_labels: [""]`))
	require.ErrorContains(t, err, "label")

	_, err = ParseRules([]byte("greetings: {"))
	require.ErrorContains(t, err, "decode rules")
}

func TestParseRules_NormalizesCase(t *testing.T) {
	r, err := ParseRules([]byte(`
greetings: ["  Howdy "]
forbidden_labels: ["Action:"]
escalation_phrases: ["Be Ruthless"]
forbidden_snippets: ["Choose One Area"]
generic_patterns:
  - ["Drink Water", " SLEEP early"]
`))
	require.NoError(t, err)
	require.Equal(t, "keep", r.RemoveLabeledLines("Action: do X\nkeep"))
	require.Equal(t, "do X", r.HardGuard("ACTION: do X"))
	require.True(t, r.WantsEscalatedTone("be ruthless please"))
	require.True(t, r.ContainsForbiddenSnippet("choose one area now"))
	require.True(t, r.LooksTooGeneric("drink water and sleep early"))
	require.True(t, r.IsGreeting("howdy there"))
}

func TestParseRules_RejectsEmptyEntries(t *testing.T) {
	cases := map[string]string{
		"snippet":    `forbidden_snippets: [""]`,
		"escalation": `escalation_phrases: ["  "]`,
		"greeting":   `greetings: [""]`,
		"label":      `forbidden_labels: [" "]`,
		"pattern":    `generic_patterns: [["walk", " "]]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(raw))
			require.Error(t, err)
			require.Contains(t, err.Error(), "empty")
		})
	}
}

func TestHardGuard_NonWordLabel(t *testing.T) {
	r, err := ParseRules([]byte(`forbidden_labels: ["->", "[tip]"]`))
	require.NoError(t, err)
	require.Equal(t, "walk now. rest", r.HardGuard("-> walk now. [TIP] rest"))
	require.Equal(t, "next step", r.HardGuard("next [tip] step"))
}

func TestHardGuard_LiteralRules(t *testing.T) {
	r := Rules{ForbiddenLabels: []string{"note:"}, MaxQuestions: 2}
	require.Equal(t, "walk", r.HardGuard("Note: walk"))
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_questions: 3\n"), 0o600))

	r, err := LoadRules(path)
	require.NoError(t, err)
	require.False(t, r.HasExcessQuestions("a? b?"))
	require.True(t, r.HasExcessQuestions("a? b? c?"))

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read rules")
}
