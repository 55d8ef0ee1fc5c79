package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"forge-coach/internal/domain"
	"forge-coach/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	defaultBodyLimit  = 1 << 20

	// codeRateLimited is only produced by the HTTP server's own limiter.
	codeRateLimited = "RATE_LIMITED"

	banner = "FORGE backend is running. Use /health or POST /forge"
)

// Forger is the use case consumed by the transport layer.
type Forger interface {
	Forge(ctx context.Context, in usecase.ForgeInput) (usecase.ForgeOutput, error)
}

type Handler struct {
	forger    Forger
	logger    *zap.Logger
	bodyLimit int64
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBodyLimit caps the accepted request body size in bytes.
func WithBodyLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.bodyLimit = n
		}
	}
}

func NewHandler(f Forger, opts ...Option) (*Handler, error) {
	if f == nil {
		return nil, errors.New("handler: forger must not be nil")
	}
	h := &Handler{
		forger:    f,
		logger:    zap.NewNop(),
		bodyLimit: defaultBodyLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type forgeRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
	Mode     string               `json:"mode"`
	Context  *domain.UsageContext `json:"context"`
}

type forgeResponse struct {
	Text            string `json:"text"`
	Mode            string `json:"mode"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	Model           string `json:"model"`
	Backend         string `json:"backend"`
	PromptVersion   string `json:"prompt_version,omitempty"`
	ServerTime      string `json:"server_time,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// Handle serves API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFromHeaders(req.Headers)

	switch {
	case req.HTTPMethod == http.MethodGet && strings.TrimRight(req.Path, "/") == "/health":
		return jsonResponse(http.StatusOK, healthResponse{OK: true}, correlationID), nil
	case req.HTTPMethod == http.MethodGet:
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8", correlationHeader: correlationID},
			Body:       banner,
		}, nil
	case req.HTTPMethod != http.MethodPost:
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Details: fmt.Sprintf("method %s not allowed", req.HTTPMethod),
		}, correlationID), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{
				Error:   string(usecase.ErrorInvalidInput),
				Details: "invalid base64 body",
			}, correlationID), nil
		}
		body = decoded
	}
	if int64(len(body)) > h.bodyLimit {
		return jsonResponse(http.StatusRequestEntityTooLarge, tooLarge(h.bodyLimit), correlationID), nil
	}

	status, payload := h.forge(ctx, correlationID, body)
	return jsonResponse(status, payload, correlationID), nil
}

// forge decodes one request body, runs the use case and returns the status
// and JSON payload. Both transports share it.
func (h *Handler) forge(ctx context.Context, correlationID string, body []byte) (int, any) {
	var req forgeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Details: "invalid JSON body: " + err.Error(),
		}
	}

	out, err := h.forger.Forge(ctx, usecase.ForgeInput{
		Messages:      req.Messages,
		Mode:          req.Mode,
		Context:       req.Context,
		CorrelationID: correlationID,
	})
	if err != nil {
		return h.errorPayload(correlationID, err)
	}

	return http.StatusOK, forgeResponse{
		Text:            out.Text,
		Mode:            string(out.Mode),
		MaxOutputTokens: out.MaxOutputTokens,
		Model:           out.Model,
		Backend:         out.Backend,
		PromptVersion:   out.PromptVersion,
		ServerTime:      out.ServerTime,
	}
}

func (h *Handler) errorPayload(correlationID string, err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.Error("unexpected forge error", zap.String("correlation_id", correlationID), zap.Error(err))
		return http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Details: "internal error",
		}
	}
	return statusFor(ue.Code), errorResponse{
		Error:   string(ue.Code),
		Details: ue.Detail(),
	}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorConfiguration, usecase.ErrorInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func tooLarge(limit int64) errorResponse {
	return errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Details: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

func correlationIDFromHeaders(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, payload any, correlationID string) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","details":"encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
