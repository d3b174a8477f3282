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
	"github.com/google/uuid"

	"salesdesk-agent/internal/domain"
)

const (
	pkPrefixEscalation = "ESC#"
	ttlDuration        = 90 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Recorder.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Recorder persists escalation records to a DynamoDB table, where the human
// handoff workflow picks them up. Writes are fire-and-forget from the
// pipeline's point of view; the caller logs failures and moves on.
type Recorder struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new escalation Recorder.
func New(api dynamodbAPI, tableName string) (*Recorder, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Recorder{api: api, tableName: tableName}, nil
}

// Record writes one escalation item keyed by masked sender and timestamp.
func (r *Recorder) Record(ctx context.Context, rec domain.EscalationRecord) error {
	if strings.TrimSpace(rec.MaskedSender) == "" {
		return errors.New("repository: Record: masked sender is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = newID()
	}

	item, err := escalationItem(rec)
	if err != nil {
		return fmt.Errorf("repository: Record encode: %w", err)
	}

	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Record: %w", err)
	}
	return nil
}

func escalationPK(maskedSender string) string {
	return pkPrefixEscalation + maskedSender
}

func escalationSK(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 90 days in the future.
func ttlValue(from time.Time) int64 {
	return from.Add(ttlDuration).Unix()
}

func escalationItem(rec domain.EscalationRecord) (map[string]types.AttributeValue, error) {
	snapshot, err := json.Marshal(rec.State)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: escalationPK(rec.MaskedSender)},
		"SK":           &types.AttributeValueMemberS{Value: escalationSK(rec.CreatedAt)},
		"id":           &types.AttributeValueMemberS{Value: rec.ID},
		"notes":        &types.AttributeValueMemberS{Value: rec.Notes},
		"trigger_text": &types.AttributeValueMemberS{Value: rec.TriggerText},
		"state":        &types.AttributeValueMemberS{Value: string(snapshot)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(rec.CreatedAt))},
	}, nil
}

var newID = func() string {
	return uuid.NewString()
}
