package validation

import (
	"strings"
	"unicode"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// passwords need a letter and a digit and must not contain the email's local part
	v.RegisterStructValidation(registerStructValidation, RegisterRequest{})

	return v
}

func registerStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RegisterRequest)

	var letter, digit bool
	for _, r := range req.Password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		sl.ReportError(req.Password, "password", "Password", "password_strength", "")
	}

	local, _, ok := strings.Cut(strings.ToLower(req.Email), "@")
	if ok && len(local) >= 3 && strings.Contains(strings.ToLower(req.Password), local) {
		sl.ReportError(req.Password, "password", "Password", "password_contains_email", "")
	}
}
