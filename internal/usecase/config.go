package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"forge-coach/internal/domain"
	"forge-coach/internal/guard"
)

const (
	defaultModel             = "gpt-4o-mini"
	defaultPromptVersion     = "forge-v3.3-tone-escalation"
	defaultPrimaryTemp       = 0.6
	defaultRetryTemp         = 0.5
	defaultCompletionTimeout = 30 * time.Second
	defaultMaxMessages       = 50
)

// Config is the immutable policy configuration for a ForgeService. Build it
// once at startup and pass it by value.
type Config struct {
	Model              string
	PromptVersion      string
	Budgets            map[domain.Mode]int
	PrimaryTemperature float64
	RetryTemperature   float64
	RetryEnabled       bool
	Debug              bool
	CompletionTimeout  time.Duration
	MaxMessages        int
	Rules              guard.Rules
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:         defaultModel,
		PromptVersion: defaultPromptVersion,
		Budgets: map[domain.Mode]int{
			domain.ModeStrike:   220,
			domain.ModeGuidance: 700,
			domain.ModeDeep:     1600,
		},
		PrimaryTemperature: defaultPrimaryTemp,
		RetryTemperature:   defaultRetryTemp,
		RetryEnabled:       true,
		Debug:              false,
		CompletionTimeout:  defaultCompletionTimeout,
		MaxMessages:        defaultMaxMessages,
		Rules:              guard.DefaultRules(),
	}
}

// Validate checks the invariants the retry policy relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("usecase: model must not be empty")
	}
	for _, m := range domain.Modes {
		if c.Budgets[m] <= 0 {
			return fmt.Errorf("usecase: budget for mode %q must be positive", m)
		}
	}
	if c.PrimaryTemperature < 0 || c.PrimaryTemperature > 2 {
		return fmt.Errorf("usecase: primary temperature %v out of range [0,2]", c.PrimaryTemperature)
	}
	if c.RetryTemperature < 0 || c.RetryTemperature > c.PrimaryTemperature {
		return fmt.Errorf("usecase: retry temperature %v must be in [0, primary temperature %v]", c.RetryTemperature, c.PrimaryTemperature)
	}
	if c.CompletionTimeout <= 0 {
		return errors.New("usecase: completion timeout must be positive")
	}
	if c.MaxMessages <= 0 {
		return errors.New("usecase: max messages must be positive")
	}
	return c.Rules.Validate()
}

