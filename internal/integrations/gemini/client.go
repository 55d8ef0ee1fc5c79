// Package gemini adapts the Google GenAI SDK to the forge completion contract.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"forge-coach/internal/domain"
	"forge-coach/internal/integrations/paramstore"
)

const BackendName = "gemini"

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Client calls the Gemini API. The SDK client is built lazily once the API
// key has been fetched.
type Client struct {
	getter      Getter
	paramPrefix string
	baseURL     string

	newGenerator func(ctx context.Context, apiKey, baseURL string) (generator, error)

	mu  sync.Mutex
	gen generator
}

type Option func(*Client)

// WithBaseURL points the SDK at a different endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		getter:       ps,
		paramPrefix:  paramPrefix,
		newGenerator: newSDKGenerator,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newSDKGenerator(ctx context.Context, apiKey, baseURL string) (generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client.Models, nil
}

func (c *Client) Backend() string { return BackendName }

func (c *Client) Ready(ctx context.Context) error {
	_, err := c.resolveGenerator(ctx)
	return err
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

func (c *Client) resolveGenerator(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != nil {
		return c.gen, nil
	}

	raw, err := c.getter.GetParameter(ctx, c.tokenParameterName())
	if err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return nil, fmt.Errorf("gemini: %w: %v", domain.ErrMissingCredential, err)
		}
		return nil, fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return nil, fmt.Errorf("gemini: %w: API token is empty", domain.ErrMissingCredential)
	}

	gen, err := c.newGenerator(ctx, tp.Token, c.baseURL)
	if err != nil {
		return nil, err
	}
	c.gen = gen
	return gen, nil
}

func (c *Client) Complete(ctx context.Context, in domain.CompletionRequest) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	gen, err := c.resolveGenerator(ctx)
	if err != nil {
		return "", err
	}

	system, contents := toContents(in.Messages)
	res, err := gen.GenerateContent(ctx, in.Model, contents, generateConfig(system, in))
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if res == nil {
		return "", nil
	}
	return res.Text(), nil
}

// toContents splits chat messages into a joined system instruction and the
// conversational turns. Assistant turns map to the model role.
func toContents(messages []domain.ChatMessage) (string, []*genai.Content) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func generateConfig(system string, in domain.CompletionRequest) *genai.GenerateContentConfig {
	temp := float32(in.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(in.MaxOutputTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}
