// Package guard holds the text heuristics that decide whether a model answer
// is acceptable and the filters that clean it before it reaches a client.
package guard

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pair is two substrings that, found together, mark a templated answer.
type Pair [2]string

// Rules carries every phrase list the heuristics match against. All matching
// is case-insensitive; list entries are expected in lower case.
type Rules struct {
	Greetings         []string `yaml:"greetings"`
	EscalationPhrases []string `yaml:"escalation_phrases"`
	ForbiddenLabels   []string `yaml:"forbidden_labels"`
	ForbiddenSnippets []string `yaml:"forbidden_snippets"`
	GenericPatterns   []Pair   `yaml:"generic_patterns"`
	MaxQuestions      int      `yaml:"max_questions"`

	labelPatterns []*regexp.Regexp
}

// DefaultRules returns the built-in phrase lists.
func DefaultRules() Rules {
	r := Rules{
		Greetings: []string{"hi", "hey", "hello", "yo", "sup"},
		EscalationPhrases: []string{
			"be ruthless",
			"be brutal",
			"don't be soft",
			"stop babying me",
			"hit me",
			"tell me the truth",
			"no bs",
			"no bullshit",
			"no sugarcoat",
			"no sugar coat",
		},
		ForbiddenLabels: []string{"action:", "fallback:"},
		ForbiddenSnippets: []string{
			"action:",
			"fallback:",
			"it’s common to feel overwhelmed",
			"it's common to feel overwhelmed",
			"choose one area that resonates with you",
			"you got this king",
			"you’ve got this king",

			// refusals about context the model was actually given
			"i can't provide a complete list",
			"i can’t provide a complete list",
			"i can’t access",
			"i can't access",
			"i can't learn",
			"i can’t learn",
			"i can't store new information",
			"i can’t store new information",
		},
		GenericPatterns: []Pair{
			{"log one small win", "10-minute walk"},
			{"what’s your focus today", "body, mind, or finance"},
		},
		MaxQuestions: 2,
	}
	r.labelPatterns = compileLabels(r.ForbiddenLabels)
	return r
}

// LoadRules reads a YAML rules file. Keys absent from the file keep their
// default values.
func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("guard: read rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes YAML rules over DefaultRules. Entries are trimmed and
// lower-cased.
func ParseRules(raw []byte) (Rules, error) {
	r := DefaultRules()
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rules{}, fmt.Errorf("guard: decode rules: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	r.labelPatterns = compileLabels(r.ForbiddenLabels)
	return r, nil
}

func (r *Rules) normalize() {
	for _, list := range [][]string{r.Greetings, r.EscalationPhrases, r.ForbiddenLabels, r.ForbiddenSnippets} {
		for i, v := range list {
			list[i] = strings.ToLower(strings.TrimSpace(v))
		}
	}
	for i, p := range r.GenericPatterns {
		r.GenericPatterns[i] = Pair{
			strings.ToLower(strings.TrimSpace(p[0])),
			strings.ToLower(strings.TrimSpace(p[1])),
		}
	}
}

// compileLabels builds the case-insensitive hard guard pattern for each
// label. Labels that open with a word character only match at a word start.
func compileLabels(labels []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(labels))
	for _, label := range labels {
		out = append(out, labelPattern(label))
	}
	return out
}

func labelPattern(label string) *regexp.Regexp {
	expr := regexp.QuoteMeta(label) + `\s*`
	if label != "" && isWordByte(label[0]) {
		expr = `\b` + expr
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Validate rejects empty list entries and a max_questions below one. An
// empty needle matches every text.
func (r Rules) Validate() error {
	if r.MaxQuestions < 1 {
		return errors.New("guard: max_questions must be at least 1")
	}
	lists := []struct {
		name    string
		entries []string
	}{
		{"greeting", r.Greetings},
		{"escalation phrase", r.EscalationPhrases},
		{"forbidden label", r.ForbiddenLabels},
		{"forbidden snippet", r.ForbiddenSnippets},
	}
	for _, l := range lists {
		for _, e := range l.entries {
			if strings.TrimSpace(e) == "" {
				return fmt.Errorf("guard: %s must not be empty", l.name)
			}
		}
	}
	for _, p := range r.GenericPatterns {
		if strings.TrimSpace(p[0]) == "" || strings.TrimSpace(p[1]) == "" {
			return errors.New("guard: generic pattern needs two non-empty parts")
		}
	}
	return nil
}
