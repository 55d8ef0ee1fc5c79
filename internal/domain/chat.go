package domain

// Message roles accepted from clients and sent to completion backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations. It carries both inbound conversation turns and the
// instruction segments assembled for a completion call.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of the three accepted message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// LastUserContent returns the content of the most recent user message, or ""
// when the conversation has none.
func LastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// CompletionRequest is one call to a completion backend.
type CompletionRequest struct {
	Model           string
	Messages        []ChatMessage
	MaxOutputTokens int
	Temperature     float64
}
