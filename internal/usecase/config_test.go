package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"forge-coach/internal/domain"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 220, cfg.Budgets[domain.ModeStrike])
	require.Equal(t, 700, cfg.Budgets[domain.ModeGuidance])
	require.Equal(t, 1600, cfg.Budgets[domain.ModeDeep])
	require.Less(t, cfg.RetryTemperature, cfg.PrimaryTemperature)
	require.True(t, cfg.RetryEnabled)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty model", func(c *Config) { c.Model = " " }, "model"},
		{"missing budget", func(c *Config) { c.Budgets = map[domain.Mode]int{domain.ModeStrike: 10} }, "budget"},
		{"primary temperature", func(c *Config) { c.PrimaryTemperature = 3 }, "primary temperature"},
		{"retry above primary", func(c *Config) { c.RetryTemperature = 0.7 }, "retry temperature"},
		{"negative retry", func(c *Config) { c.RetryTemperature = -0.1 }, "retry temperature"},
		{"timeout", func(c *Config) { c.CompletionTimeout = 0 }, "timeout"},
		{"max messages", func(c *Config) { c.MaxMessages = 0 }, "max messages"},
		{"rules", func(c *Config) { c.Rules.MaxQuestions = 0 }, "max_questions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}
}
