package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"forge-coach/internal/domain"
)

// ErrNotFound is returned when an exchange does not exist.
var ErrNotFound = errors.New("repository: exchange not found")

const (
	pkPrefixExchange = "EXCH#"
	skMeta           = "META#"
	ttlDuration      = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding the exchange audit log.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// exchangePK returns the DynamoDB partition key for an exchange.
func exchangePK(id string) string {
	return pkPrefixExchange + id
}

// ttlValue returns a Unix timestamp 30 days after now.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

// RecordExchange writes one exchange. Keys and TTL are derived from the ID
// when the caller leaves them unset. Existing records are never overwritten.
func (c *Client) RecordExchange(ctx context.Context, ex domain.Exchange) error {
	if strings.TrimSpace(ex.ID) == "" {
		return errors.New("repository: RecordExchange: ID is required")
	}
	if ex.PK == "" {
		ex.PK = exchangePK(ex.ID)
	}
	if ex.SK == "" {
		ex.SK = skMeta
	}
	if ex.TTL == 0 {
		ex.TTL = ttlValue(c.now())
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                exchangeItem(ex),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordExchange: %w", err)
	}
	return nil
}

// GetExchange reads one exchange by ID.
func (c *Client) GetExchange(ctx context.Context, id string) (domain.Exchange, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Exchange{}, errors.New("repository: GetExchange: ID is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: exchangePK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Exchange{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	ex, err := itemToExchange(out.Item)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("repository: GetExchange decode: %w", err)
	}
	return ex, nil
}

func exchangeItem(ex domain.Exchange) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: ex.PK},
		"SK":            &types.AttributeValueMemberS{Value: ex.SK},
		"exchangeId":    &types.AttributeValueMemberS{Value: ex.ID},
		"correlationId": &types.AttributeValueMemberS{Value: ex.CorrelationID},
		"mode":          &types.AttributeValueMemberS{Value: string(ex.Mode)},
		"backend":       &types.AttributeValueMemberS{Value: ex.Backend},
		"model":         &types.AttributeValueMemberS{Value: ex.Model},
		"retried":       &types.AttributeValueMemberBOOL{Value: ex.Retried},
		"retryOutcome":  &types.AttributeValueMemberS{Value: ex.RetryOutcome},
		"text":          &types.AttributeValueMemberS{Value: ex.Text},
		"promptVersion": &types.AttributeValueMemberS{Value: ex.PromptVersion},
		"createdAt":     &types.AttributeValueMemberS{Value: ex.CreatedAt},
		"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(ex.TTL, 10)},
	}
	// DynamoDB rejects empty string sets.
	if len(ex.Rejections) > 0 {
		item["rejections"] = &types.AttributeValueMemberSS{Value: ex.Rejections}
	}
	return item
}

// itemToExchange converts a DynamoDB attribute map to an Exchange.
func itemToExchange(item map[string]types.AttributeValue) (domain.Exchange, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Exchange{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Exchange{}, err
	}
	id, err := strAttr(item, "exchangeId")
	if err != nil {
		return domain.Exchange{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Exchange{}, err
	}
	ttl, err := intAttr(item, "ttl")
	if err != nil {
		return domain.Exchange{}, err
	}
	correlationID, _ := strAttr(item, "correlationId") // allow empty
	mode, _ := strAttr(item, "mode")
	backend, _ := strAttr(item, "backend")
	model, _ := strAttr(item, "model")
	outcome, _ := strAttr(item, "retryOutcome")
	promptVersion, _ := strAttr(item, "promptVersion")
	createdAt, _ := strAttr(item, "createdAt")

	ex := domain.Exchange{
		PK:            pk,
		SK:            sk,
		ID:            id,
		CorrelationID: correlationID,
		Mode:          domain.Mode(mode),
		Backend:       backend,
		Model:         model,
		RetryOutcome:  outcome,
		Text:          text,
		PromptVersion: promptVersion,
		CreatedAt:     createdAt,
		TTL:           ttl,
	}
	if v, ok := item["retried"].(*types.AttributeValueMemberBOOL); ok {
		ex.Retried = v.Value
	}
	if v, ok := item["rejections"].(*types.AttributeValueMemberSS); ok {
		ex.Rejections = v.Value
	}
	return ex, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
