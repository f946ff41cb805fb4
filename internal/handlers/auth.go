package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greencycle/apiserver/internal/services"
	"github.com/greencycle/apiserver/internal/store"
	"github.com/greencycle/apiserver/types"
)

// AuthHandler exposes the account lifecycle over HTTP.
type AuthHandler struct {
	accounts *services.AccountService
	logger   *slog.Logger
}

func NewAuthHandler(accounts *services.AccountService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{accounts: accounts, logger: logger}
}

// AuthRouter registers account routes on r. limit, when non-nil, wraps the
// credential endpoints.
func AuthRouter(r chi.Router, accounts *services.AccountService, logger *slog.Logger, limit func(http.Handler) http.Handler) {
	handler := NewAuthHandler(accounts, logger)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/signup", handler.Signup)
		r.Post("/login", handler.Login)
		r.Post("/change_password", handler.ChangePassword)
		r.Post("/forgot_password", handler.ForgotPassword)
		r.Post("/reset_password", handler.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAuth)
		r.Post("/logout", handler.Logout)
		r.Get("/me", handler.Me)
	})
}

// RequireAuth verifies the bearer token and stores its claims in the
// request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
			return
		}

		claims, err := h.accounts.Authenticate(r.Context(), token)
		if err != nil {
			respondError(w, r, h.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), contextClaimsKey, claims)
		ctx = context.WithValue(ctx, contextTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	user, err := h.accounts.Signup(r.Context(), services.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	})
}

// ChangePassword requires the old password. A bearer token is optional, but
// when sent it must be valid and belong to the same account.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var sessionUserID int
	if r.Header.Get("Authorization") != "" {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
			return
		}
		claims, err := h.accounts.Authenticate(r.Context(), token)
		if err != nil {
			respondError(w, r, h.logger, err)
			return
		}
		sessionUserID = claims.UserID
	}

	err := h.accounts.ChangePassword(r.Context(), services.ChangePasswordInput{
		Identifier:    req.Identifier,
		OldPassword:   req.OldPassword,
		NewPassword:   req.NewPassword,
		SessionUserID: sessionUserID,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password changed"})
}

// ForgotPassword answers the same way whether or not the email belongs to
// an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if err := h.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "if an account exists for that email, reset instructions have been sent",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	err := h.accounts.ResetPassword(r.Context(), services.ResetPasswordInput{
		Email:           req.Email,
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password has been reset"})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), tokenFromContext(r.Context())); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
		return
	}

	user, err := h.accounts.Me(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
			return
		}
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

type SignupRequest struct {
	Username        string `json:"username" validate:"max=64"`
	Email           string `json:"email" validate:"required,max=254"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=254"`
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email" validate:"required,max=254"`
	Token           string `json:"token" validate:"required,max=256"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

type UserResponse struct {
	User types.User `json:"user"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      types.User `json:"user"`
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
