package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/go-idempotent-taskbundle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "users-table"

var fixedNow = time.Unix(1_700_000_000, 0)

func newStore(t *testing.T) (*Store, *testutil.Dynamo) {
	t.Helper()
	db := testutil.NewDynamo().WithTable(table, "email")
	s := NewStore(db, table)
	s.nowFunc = func() time.Time { return fixedNow }
	return s, db
}

func newUser(email string) User {
	return User{
		Email:                 email,
		UserID:                "u-1",
		Name:                  "Ada",
		PasswordHash:          "hash",
		VerificationCode:      123456,
		VerificationExpiresAt: fixedNow.Add(15 * time.Minute).Unix(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, newUser("  Ada@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, fixedNow.Unix(), u.CreatedAt)

	got, err := s.Get(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *u, *got)
	assert.False(t, got.IsVerified)

	missing, err := s.Get(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, newUser("ada@example.com"))
	require.NoError(t, err)
	_, err = s.Create(ctx, newUser("Ada@Example.com"))
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, 1, db.Len(table))
}

func TestCreate_StorageError(t *testing.T) {
	s, db := newStore(t)
	db.FailWith("PutItem", errors.New("throttled"))
	_, err := s.Create(context.Background(), newUser("ada@example.com"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailTaken)
}

func TestVerify(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, newUser("ada@example.com"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(ctx, "ada@example.com", 111111), ErrVerificationFailed)
	require.NoError(t, s.Verify(ctx, "ada@example.com", 123456))

	u, err := s.Get(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	assert.ErrorIs(t, s.Verify(ctx, "ada@example.com", 123456), ErrVerificationFailed, "already verified")
	assert.ErrorIs(t, s.Verify(ctx, "ghost@example.com", 123456), ErrVerificationFailed)
}

func TestVerify_ExpiredCode(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, newUser("ada@example.com"))
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return fixedNow.Add(16 * time.Minute) }
	assert.ErrorIs(t, s.Verify(ctx, "ada@example.com", 123456), ErrVerificationFailed)
}
