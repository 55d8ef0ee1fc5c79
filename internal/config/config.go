// Package config loads forge settings from an optional YAML file and FORGE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"forge-coach/internal/domain"
	"forge-coach/internal/guard"
	"forge-coach/internal/usecase"
)

const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"

	defaultGeminiModel = "gemini-2.5-flash"
)

// Server holds the standalone HTTP server settings.
type Server struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
	BodyLimit   int64    `mapstructure:"body_limit"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr returns the listen address as host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	def := usecase.DefaultConfig()

	v.SetDefault("backend", BackendOpenAI)
	v.SetDefault("model", "")
	v.SetDefault("prompt_version", def.PromptVersion)
	v.SetDefault("budgets.strike", def.Budgets[domain.ModeStrike])
	v.SetDefault("budgets.guidance", def.Budgets[domain.ModeGuidance])
	v.SetDefault("budgets.deep", def.Budgets[domain.ModeDeep])
	v.SetDefault("temperature.primary", def.PrimaryTemperature)
	v.SetDefault("temperature.retry", def.RetryTemperature)
	v.SetDefault("retry_enabled", def.RetryEnabled)
	v.SetDefault("debug", def.Debug)
	v.SetDefault("completion_timeout", def.CompletionTimeout.String())
	v.SetDefault("max_messages", def.MaxMessages)
	v.SetDefault("rules_file", "")

	v.SetDefault("openai_base_url", "")
	v.SetDefault("gemini_base_url", "")

	v.SetDefault("param_prefix", "/forge")
	v.SetDefault("exchange_table", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.body_limit", 1<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("forge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/forge")
	}

	// Environment variable support: FORGE_MODEL, FORGE_SERVER_PORT=9090
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// Backend returns the configured completion backend.
func Backend(v *viper.Viper) (string, error) {
	b := strings.ToLower(strings.TrimSpace(v.GetString("backend")))
	switch b {
	case BackendOpenAI, BackendGemini:
		return b, nil
	}
	return "", fmt.Errorf("invalid backend %q: must be %q or %q", b, BackendOpenAI, BackendGemini)
}

// ForgeConfig builds the immutable service configuration.
func ForgeConfig(v *viper.Viper) (usecase.Config, error) {
	backend, err := Backend(v)
	if err != nil {
		return usecase.Config{}, err
	}

	cfg := usecase.DefaultConfig()
	if model := strings.TrimSpace(v.GetString("model")); model != "" {
		cfg.Model = model
	} else if backend == BackendGemini {
		cfg.Model = defaultGeminiModel
	}
	cfg.PromptVersion = v.GetString("prompt_version")
	cfg.Budgets = map[domain.Mode]int{
		domain.ModeStrike:   v.GetInt("budgets.strike"),
		domain.ModeGuidance: v.GetInt("budgets.guidance"),
		domain.ModeDeep:     v.GetInt("budgets.deep"),
	}
	cfg.PrimaryTemperature = v.GetFloat64("temperature.primary")
	cfg.RetryTemperature = v.GetFloat64("temperature.retry")
	cfg.RetryEnabled = v.GetBool("retry_enabled")
	cfg.Debug = v.GetBool("debug")
	cfg.CompletionTimeout = v.GetDuration("completion_timeout")
	cfg.MaxMessages = v.GetInt("max_messages")

	if path := strings.TrimSpace(v.GetString("rules_file")); path != "" {
		rules, err := guard.LoadRules(path)
		if err != nil {
			return usecase.Config{}, err
		}
		cfg.Rules = rules
	}

	if err := cfg.Validate(); err != nil {
		return usecase.Config{}, err
	}
	return cfg, nil
}

// ServerConfig decodes the "server" section.
func ServerConfig(v *viper.Viper) (Server, error) {
	s := Server{
		Host:        v.GetString("server.host"),
		Port:        v.GetInt("server.port"),
		RateLimit:   v.GetFloat64("server.rate_limit"),
		RateBurst:   v.GetInt("server.rate_burst"),
		BodyLimit:   v.GetInt64("server.body_limit"),
		CORSOrigins: v.GetStringSlice("server.cors_origins"),
	}
	if s.Port <= 0 || s.Port > 65535 {
		return Server{}, fmt.Errorf("invalid server port %d", s.Port)
	}
	if s.RateLimit < 0 || s.RateBurst < 0 {
		return Server{}, errors.New("server rate limit and burst must not be negative")
	}
	if s.BodyLimit <= 0 {
		return Server{}, errors.New("server body limit must be positive")
	}
	return s, nil
}
