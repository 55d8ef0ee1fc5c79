package domain

// Exchange is the audit record persisted for one finalized forge request.
type Exchange struct {
	PK            string
	SK            string
	ID            string
	CorrelationID string
	Mode          Mode
	Backend       string
	Model         string
	Retried       bool
	RetryOutcome  string
	Rejections    []string
	Text          string
	PromptVersion string
	CreatedAt     string
	TTL           int64
}
