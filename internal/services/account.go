package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/greencycle/apiserver/internal/store"
	"github.com/greencycle/apiserver/types"
)

const DefaultPasswordMinLength = 6

// ResetMessage is what the delivery collaborator needs to send reset
// instructions to a user.
type ResetMessage struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetDelivery hands a freshly issued reset token to whatever sends it to
// the user out of band.
type ResetDelivery interface {
	DeliverResetToken(ctx context.Context, msg ResetMessage) error
}

// AccountDependencies is the service context the account flows run in.
type AccountDependencies struct {
	Validator         *EmailValidator
	Credentials       *CredentialStore
	Sessions          *SessionTokenService
	Resets            *PasswordResetTokenService
	Delivery          ResetDelivery
	Logger            *slog.Logger
	PasswordMinLength int
}

// AccountService orchestrates signup, login, password change and the
// forgot/reset password handshake.
type AccountService struct {
	validator         *EmailValidator
	credentials       *CredentialStore
	sessions          *SessionTokenService
	resets            *PasswordResetTokenService
	delivery          ResetDelivery
	logger            *slog.Logger
	passwordMinLength int
}

func NewAccountService(deps AccountDependencies) (*AccountService, error) {
	if deps.Credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session token service is required")
	}
	if deps.Resets == nil {
		return nil, errors.New("password reset token service is required")
	}
	if deps.Validator == nil {
		deps.Validator = NewEmailValidator()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PasswordMinLength <= 0 {
		deps.PasswordMinLength = DefaultPasswordMinLength
	}
	return &AccountService{
		validator:         deps.Validator,
		credentials:       deps.Credentials,
		sessions:          deps.Sessions,
		resets:            deps.Resets,
		delivery:          deps.Delivery,
		logger:            deps.Logger.With("component", "accounts"),
		passwordMinLength: deps.PasswordMinLength,
	}, nil
}

type SignupInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      types.User
}

type ChangePasswordInput struct {
	Identifier  string
	OldPassword string
	NewPassword string
	// SessionUserID, when non-zero, must match the account being changed.
	SessionUserID int
}

type ResetPasswordInput struct {
	Email           string
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// Signup validates the request and creates the account. It stops at the
// first failed check.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (types.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" || in.PasswordConfirm == "" {
		return types.User{}, ErrMissingFields
	}
	if in.Password != in.PasswordConfirm {
		return types.User{}, ErrPasswordMismatch
	}
	if err := s.validatePassword(in.Password); err != nil {
		return types.User{}, err
	}
	if err := s.validator.Validate(username, email, false); err != nil {
		return types.User{}, fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	}

	var usernamePtr *string
	if username != "" {
		usernamePtr = &username
	}
	user, err := s.credentials.CreateUser(ctx, usernamePtr, email, in.Password)
	if err != nil {
		return types.User{}, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials and issues a session token. Unknown accounts
// and wrong passwords both return ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, ErrMissingFields
	}

	user, err := s.authenticate(ctx, identifier, password)
	if err != nil {
		return LoginResult{}, err
	}

	token, expiresAt, err := s.sessions.Issue(user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// ChangePassword replaces the password after the old one verifies.
func (s *AccountService) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.OldPassword == "" || in.NewPassword == "" {
		return ErrMissingFields
	}

	user, err := s.authenticate(ctx, identifier, in.OldPassword)
	if err != nil {
		return err
	}
	if in.SessionUserID != 0 && in.SessionUserID != user.ID {
		return ErrInvalidCredentials
	}
	if err := s.validatePassword(in.NewPassword); err != nil {
		return err
	}
	if err := s.credentials.SetPassword(ctx, user, in.NewPassword); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID)
	return nil
}

// ForgotPassword issues a reset token for the account owning email and
// hands it to the delivery collaborator. It returns nil whether or not the
// account exists.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrMissingFields
	}
	if err := s.validator.ValidateEmail(email); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	}

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return err
	}

	token, expiresAt, err := s.resets.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset token issued", "user_id", user.ID, "expires_at", expiresAt)

	if s.delivery == nil {
		s.logger.WarnContext(ctx, "no reset delivery configured; token not sent", "user_id", user.ID)
		return nil
	}
	msg := ResetMessage{Email: user.Email, Token: token, ExpiresAt: expiresAt}
	if err := s.delivery.DeliverResetToken(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "reset token delivery failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword confirms the reset token and writes the new password. All
// input checks run before the token is touched, so a rejected request
// changes nothing.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	email := strings.TrimSpace(in.Email)
	token := strings.TrimSpace(in.Token)
	if email == "" || token == "" || in.NewPassword == "" || in.ConfirmPassword == "" {
		return ErrMissingFields
	}
	if in.NewPassword != in.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if err := s.validatePassword(in.NewPassword); err != nil {
		return err
	}

	user, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same lookup a known email gets; no token row exists for it.
			_ = s.resets.Confirm(ctx, email, token)
			return ErrNoSuchToken
		}
		return err
	}

	if err := s.resets.Confirm(ctx, user.Email, token); err != nil {
		s.logger.InfoContext(ctx, "password reset rejected", "user_id", user.ID, "reason", err.Error())
		return err
	}
	if err := s.credentials.SetPassword(ctx, user, in.NewPassword); err != nil {
		return err
	}
	if err := s.resets.MarkApplied(ctx, user.Email); err != nil {
		s.logger.WarnContext(ctx, "failed to mark password reset applied", "user_id", user.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID)
	return nil
}

// Authenticate verifies a session token.
func (s *AccountService) Authenticate(ctx context.Context, token string) (SessionClaims, error) {
	return s.sessions.Verify(ctx, token)
}

// Logout revokes a session token.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Me returns the account behind a verified session.
func (s *AccountService) Me(ctx context.Context, userID int) (types.User, error) {
	return s.credentials.FindByID(ctx, userID)
}

func (s *AccountService) authenticate(ctx context.Context, identifier, password string) (types.User, error) {
	user, err := s.credentials.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.credentials.VerifyDummy(password)
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if !s.credentials.VerifyPassword(user, password) {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *AccountService) validatePassword(password string) error {
	if len(password) < s.passwordMinLength {
		return newValidationError("password", fmt.Sprintf("must be at least %d characters", s.passwordMinLength))
	}
	if len(password) > maxPasswordBytes {
		return newValidationError("password", fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}
