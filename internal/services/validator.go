package services

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxUsernameLength = 64

// EmailValidator checks the syntax of usernames and email addresses.
// It performs no network or DNS lookups.
type EmailValidator struct {
	validate *validator.Validate
}

func NewEmailValidator() *EmailValidator {
	return &EmailValidator{validate: validator.New()}
}

// Valid reports whether username and email are both acceptable, with the
// username required.
func (v *EmailValidator) Valid(username, email string) bool {
	return v.Validate(username, email, true) == nil
}

// Validate checks email and, when required or non-empty, username.
func (v *EmailValidator) Validate(username, email string, requireUsername bool) error {
	if err := v.ValidateEmail(email); err != nil {
		return err
	}
	if username == "" && !requireUsername {
		return nil
	}
	return v.ValidateUsername(username)
}

func (v *EmailValidator) ValidateEmail(email string) error {
	if email == "" {
		return newValidationError("email", "required")
	}
	if strings.Count(email, "@") != 1 {
		return newValidationError("email", "must contain a single @")
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return newValidationError("email", "must have the form local@domain")
	}
	if err := v.validate.Var(email, "printascii,email"); err != nil {
		return newValidationError("email", "invalid address")
	}
	return nil
}

func (v *EmailValidator) ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return newValidationError("username", "required")
	}
	if len(username) > maxUsernameLength {
		return newValidationError("username", "too long")
	}
	for _, r := range username {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return newValidationError("username", "must not contain whitespace or control characters")
		}
		if r == '@' {
			return newValidationError("username", "must not contain @")
		}
	}
	return nil
}
