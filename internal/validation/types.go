package validation

// RegisterRequest is the payload for POST /v1/auth/registers
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"` // bcrypt reads at most 72 bytes
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,e164"`
}

// VerifyRequest is the payload for POST /v1/auth/verify
type VerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  int    `json:"code" validate:"required,min=100000,max=999999"`
}
