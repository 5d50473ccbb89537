package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"upload-files-skill/internal/domain"
)

const (
	skSession  = "SESSION#relay"
	defaultTTL = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores one relay session item per conversation.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets how long after its last write a session item is kept before
// DynamoDB expires it. Non-positive values keep the default of 24h.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL is how long a session item outlives its last write.
func (c *Client) TTL() time.Duration { return c.ttl }

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func sessionKey(conversationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

// Get reads the conversation's session with a consistent read.
func (c *Client) Get(ctx context.Context, conversationID string) (domain.RelaySession, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            sessionKey(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.RelaySession{}, false, fmt.Errorf("repository: Get session: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.RelaySession{}, false, nil
	}
	session, err := itemToSession(out.Item)
	if err != nil {
		return domain.RelaySession{}, false, fmt.Errorf("repository: Get session decode: %w", err)
	}
	return session, true, nil
}

// Begin creates the session only if none exists for the conversation.
func (c *Client) Begin(ctx context.Context, session domain.RelaySession) error {
	item, err := c.sessionItem(session)
	if err != nil {
		return fmt.Errorf("repository: Begin: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: Begin %s: %w", session.ConversationID, domain.ErrSessionExists)
		}
		return fmt.Errorf("repository: Begin: %w", err)
	}
	return nil
}

// Takeover replaces stale with fresh only while the stored item is still
// the stale one as it was read, or the conversation has no session.
func (c *Client) Takeover(ctx context.Context, stale, fresh domain.RelaySession) error {
	item, err := c.sessionItem(fresh)
	if err != nil {
		return fmt.Errorf("repository: Takeover: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR (#id = :seenID AND #updated = :seenUpdated)"),
		ExpressionAttributeNames: map[string]string{
			"#id":      "sessionId",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":seenID":      &types.AttributeValueMemberS{Value: stale.ID},
			":seenUpdated": &types.AttributeValueMemberS{Value: formatTime(stale.UpdatedAt)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: Takeover %s: %w", fresh.ConversationID, domain.ErrSessionExists)
		}
		return fmt.Errorf("repository: Takeover: %w", err)
	}
	return nil
}

// Save replaces the stored session; it fails unless the stored item belongs
// to the same run.
func (c *Client) Save(ctx context.Context, session domain.RelaySession) error {
	item, err := c.sessionItem(session)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.tableName),
		Item:                      item,
		ConditionExpression:       aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": "sessionId"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: session.ID}},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: Save %s: %w", session.ConversationID, domain.ErrSessionNotFound)
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// Release deletes the session if it still belongs to the same run.
func (c *Client) Release(ctx context.Context, session domain.RelaySession) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       sessionKey(session.ConversationID),
		ConditionExpression:       aws.String("#id = :id"),
		ExpressionAttributeNames:  map[string]string{"#id": "sessionId"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: session.ID}},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

// Clear deletes the session. Deleting an absent session is not an error.
func (c *Client) Clear(ctx context.Context, conversationID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       sessionKey(conversationID),
	})
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (c *Client) sessionItem(s domain.RelaySession) (map[string]types.AttributeValue, error) {
	if strings.TrimSpace(s.ConversationID) == "" {
		return nil, errors.New("conversation id is required")
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, errors.New("session id is required")
	}
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(s.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skSession},
		"sessionId":      &types.AttributeValueMemberS{Value: s.ID},
		"conversationId": &types.AttributeValueMemberS{Value: s.ConversationID},
		"step":           &types.AttributeValueMemberS{Value: string(s.Step)},
		"startedAt":      &types.AttributeValueMemberS{Value: formatTime(s.StartedAt)},
		"updatedAt":      &types.AttributeValueMemberS{Value: formatTime(s.UpdatedAt)},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", c.now().Add(c.ttl).Unix())},
	}
	if s.Attachment != nil {
		raw, err := json.Marshal(s.Attachment)
		if err != nil {
			return nil, fmt.Errorf("encode attachment: %w", err)
		}
		item["attachment"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

// itemToSession converts a DynamoDB attribute map to a RelaySession.
func itemToSession(item map[string]types.AttributeValue) (domain.RelaySession, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.RelaySession{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.RelaySession{}, err
	}
	step, err := strAttr(item, "step")
	if err != nil {
		return domain.RelaySession{}, err
	}
	startedAt, err := timeAttr(item, "startedAt")
	if err != nil {
		return domain.RelaySession{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.RelaySession{}, err
	}
	session := domain.RelaySession{
		ID:             id,
		ConversationID: convID,
		Step:           domain.Step(step),
		StartedAt:      startedAt,
		UpdatedAt:      updatedAt,
	}
	if raw, err := strAttr(item, "attachment"); err == nil && raw != "" {
		var att domain.Attachment
		if err := json.Unmarshal([]byte(raw), &att); err != nil {
			return domain.RelaySession{}, fmt.Errorf("repository: decode attachment: %w", err)
		}
		session.Attachment = &att
	}
	return session, nil
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

// formatTime is the stored form of session times; conditions compare it
// verbatim.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
