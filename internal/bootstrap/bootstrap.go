// Package bootstrap wires configuration, secrets and backends into a
// ready-to-serve forge service. Both entrypoints share it.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"forge-coach/internal/config"
	"forge-coach/internal/integrations/gemini"
	"forge-coach/internal/integrations/openai"
	"forge-coach/internal/integrations/paramstore"
	"forge-coach/internal/observability"
	"forge-coach/internal/usecase"
)

// Env vars read by LocalParams.
const (
	EnvOpenAIKey = "FORGE_OPENAI_API_KEY"
	EnvGeminiKey = "FORGE_GEMINI_API_KEY"
)

// Deps are the collaborators built by the entrypoint.
type Deps struct {
	Params   paramstore.Getter
	Recorder usecase.ExchangeRecorder
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// CompletionClient returns the backend named by backend. A blank baseURL
// keeps the provider default.
func CompletionClient(backend string, params paramstore.Getter, paramPrefix, baseURL string) (usecase.CompletionClient, error) {
	switch backend {
	case config.BackendOpenAI:
		var opts []openai.Option
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		return openai.NewClient(params, paramPrefix, opts...)
	case config.BackendGemini:
		var opts []gemini.Option
		if baseURL != "" {
			opts = append(opts, gemini.WithBaseURL(baseURL))
		}
		return gemini.NewClient(params, paramPrefix, opts...)
	}
	return nil, fmt.Errorf("bootstrap: unknown backend %q", backend)
}

// ForgeService builds the service described by v.
func ForgeService(v *viper.Viper, d Deps) (*usecase.ForgeService, error) {
	backend, err := config.Backend(v)
	if err != nil {
		return nil, err
	}
	cfg, err := config.ForgeConfig(v)
	if err != nil {
		return nil, err
	}
	prefix := v.GetString("param_prefix")

	llm, err := CompletionClient(backend, d.Params, prefix, v.GetString(backend+"_base_url"))
	if err != nil {
		return nil, err
	}

	opts := []usecase.Option{usecase.WithLogger(d.Logger), usecase.WithMetrics(d.Metrics)}
	if d.Recorder != nil {
		opts = append(opts, usecase.WithRecorder(d.Recorder))
	}
	return usecase.NewForgeService(d.Params, llm, cfg, prefix, opts...)
}

// LocalParams serves the persona and API keys from local sources instead of
// SSM. A blank personaFile selects the built-in persona.
func LocalParams(paramPrefix, personaFile string) (paramstore.Static, error) {
	prefix := strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	persona := usecase.DefaultPersona
	if personaFile != "" {
		raw, err := os.ReadFile(personaFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: read persona: %w", err)
		}
		persona = string(raw)
	}

	params := paramstore.Static{prefix + "/persona": persona}
	for name, env := range map[string]string{"openai-token": EnvOpenAIKey, "gemini-token": EnvGeminiKey} {
		key := strings.TrimSpace(os.Getenv(env))
		if key == "" {
			continue
		}
		raw, err := json.Marshal(struct {
			Token string `json:"token"`
		}{Token: key})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: encode %s: %w", name, err)
		}
		params[prefix+"/"+name] = string(raw)
	}
	return params, nil
}
