package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-idempotent-taskbundle/internal/aws"
)

// RecordStore is the persistent source of truth for idempotency records.
// Implementations must make Create atomic on (key, scope) across processes.
type RecordStore interface {
	// Find returns (nil, nil) when no record exists.
	Find(ctx context.Context, key, scope string) (*Record, error)
	// Create inserts an in_progress record or fails with ErrDuplicateKey.
	Create(ctx context.Context, key, scope, fingerprint string) (*Record, error)
	// Update moves an in_progress record to its terminal outcome or fails with ErrNotInProgress.
	Update(ctx context.Context, key, scope string, c Completion) error
}

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long finished records are retained before DynamoDB TTL reclaims them
	nowFunc   func() time.Time
}

var _ RecordStore = (*Store)(nil)

// NewStore returns a configured Store.
// tableName: DynamoDB table keyed by idempotency_key (partition) and scope (sort).
// ttlWindow: written as expires_at; zero disables expiry.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *Store) recordKey(key, scope string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
		"scope":           &types.AttributeValueMemberS{Value: scope},
	}
}

// Find retrieves the record for (key, scope). If not found, returns (nil, nil).
func (s *Store) Find(ctx context.Context, key, scope string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.recordKey(key, scope),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, storageErr("find", fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, storageErr("find", fmt.Errorf("unmarshal item: %w", err))
	}
	return &rec, nil
}

// Create inserts an in_progress record. The conditional put is the cross-instance lock:
// exactly one concurrent caller succeeds, the rest get ErrDuplicateKey.
func (s *Store) Create(ctx context.Context, key, scope, fingerprint string) (*Record, error) {
	now := s.nowFunc().Unix()
	rec := Record{
		IdempotencyKey:     key,
		Scope:              scope,
		RequestFingerprint: fingerprint,
		Status:             StatusInProgress,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.ttlWindow > 0 {
		rec.ExpiresAt = now + int64(s.ttlWindow/time.Second)
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, storageErr("create", fmt.Errorf("marshal record: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, ErrDuplicateKey
		}
		return nil, storageErr("create", fmt.Errorf("put item: %w", err))
	}
	return &rec, nil
}

// Update writes the terminal outcome. The `#s = :in_progress` condition keeps status
// forward-only: a second update, or one for a missing record, returns ErrNotInProgress.
func (s *Store) Update(ctx context.Context, key, scope string, c Completion) error {
	if c.Status != StatusCompleted && c.Status != StatusFailed {
		return fmt.Errorf("update to non-terminal status %q", c.Status)
	}
	now := s.nowFunc().Unix()
	if c.FinishedAt == 0 {
		c.FinishedAt = now
	}

	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.recordKey(key, scope),
		UpdateExpression: awsString("SET #s = :status, response_status_code = :code, response_message = :msg, response_body = :body, finished_at = :fa, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":      &types.AttributeValueMemberS{Value: string(c.Status)},
			":code":        &types.AttributeValueMemberN{Value: strconv.Itoa(c.ResponseStatusCode)},
			":msg":         &types.AttributeValueMemberS{Value: c.ResponseMessage},
			":body":        &types.AttributeValueMemberS{Value: c.ResponseBody},
			":fa":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.FinishedAt, 10)},
			":ua":          &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":in_progress": &types.AttributeValueMemberS{Value: string(StatusInProgress)},
		},
		ConditionExpression: awsString("#s = :in_progress"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrNotInProgress
		}
		return storageErr("update", fmt.Errorf("update item: %w", err))
	}
	return nil
}

// ListStale returns in_progress records created before cutoff, following scan pagination.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]Record, error) {
	input := &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: awsString("#s = :in_progress AND created_at < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_progress": &types.AttributeValueMemberS{Value: string(StatusInProgress)},
			":cutoff":      &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.Unix(), 10)},
		},
		ConsistentRead: awsBool(true),
	}

	var out []Record
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, storageErr("list stale", fmt.Errorf("scan: %w", err))
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, storageErr("list stale", fmt.Errorf("unmarshal items: %w", err))
		}
		out = append(out, recs...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
