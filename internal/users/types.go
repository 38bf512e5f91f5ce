package users

// User is the item stored in the users DynamoDB table, keyed by email.
type User struct {
	Email        string `dynamodbav:"email"` // PK, lowercased
	UserID       string `dynamodbav:"user_id"`
	Name         string `dynamodbav:"name"`
	PasswordHash string `dynamodbav:"password_hash"`
	IsVerified   bool   `dynamodbav:"is_verified"`

	VerificationCode      int   `dynamodbav:"verification_code,omitempty"`
	VerificationExpiresAt int64 `dynamodbav:"verification_expires_at,omitempty"` // epoch seconds

	CreatedAt int64 `dynamodbav:"created_at"`
	UpdatedAt int64 `dynamodbav:"updated_at"`
}
