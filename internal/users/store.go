package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-idempotent-taskbundle/internal/aws"
)

var (
	// ErrEmailTaken is returned by Create when a user with the email already exists.
	ErrEmailTaken = errors.New("user email already registered")
	// ErrVerificationFailed: unknown user, wrong or expired code, or already verified.
	ErrVerificationFailed = errors.New("invalid or expired verification code")
)

// Store encapsulates operations on the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new users Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// NormalizeEmail is the form emails are keyed by.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u unless its email is already registered.
func (s *Store) Create(ctx context.Context, u User) (*User, error) {
	now := s.nowFunc().Unix()
	u.Email = NormalizeEmail(u.Email)
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(email)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &u, nil
}

// Get fetches a user by email. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, email string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: NormalizeEmail(email)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// Verify marks the user verified when code matches and has not expired.
func (s *Store) Verify(ctx context.Context, email string, code int) error {
	now := s.nowFunc().Unix()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: NormalizeEmail(email)},
		},
		UpdateExpression: awsString("SET is_verified = :true, updated_at = :ua"),
		ConditionExpression: awsString(
			"verification_code = :code AND verification_expires_at > :now AND is_verified = :false"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":code":  &types.AttributeValueMemberN{Value: strconv.Itoa(code)},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":true":  &types.AttributeValueMemberBOOL{Value: true},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":ua":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVerificationFailed
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
