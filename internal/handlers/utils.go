package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/greencycle/apiserver/internal/logging"
	"github.com/greencycle/apiserver/internal/services"
	"github.com/greencycle/apiserver/internal/store"
)

const maxBodyBytes = 1 << 20

// Reason codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeMissingFields      = "MISSING_FIELDS"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodePasswordMismatch   = "PASSWORD_MISMATCH"
	CodeDuplicateAccount   = "DUPLICATE_ACCOUNT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidResetToken  = "INVALID_RESET_TOKEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

type contextKey string

const (
	contextClaimsKey contextKey = "claims"
	contextTokenKey  contextKey = "token"
	contextPeerKey   contextKey = "peer"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageResponse is returned by endpoints with nothing else to say.
type MessageResponse struct {
	Message string `json:"message"`
}

var validate = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and checks its validate tags.
// A missing required field yields services.ErrMissingFields.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidRequest
	}

	err := validate.Struct(dst)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		if first.Tag() == "required" {
			return services.ErrMissingFields
		}
		return &services.ValidationError{Field: first.Field(), Reason: "failed " + first.Tag() + " check"}
	}
	return err
}

var errInvalidRequest = errors.New("invalid request body")

func claimsFromContext(ctx context.Context) (services.SessionClaims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(services.SessionClaims)
	return claims, ok && claims.UserID > 0
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextTokenKey).(string)
	return token
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// errorStatus maps an error from the services layer to the response sent
// to clients. Reset token failures share one code so the response does
// not say whether the email has an account.
func errorStatus(err error) (int, string, string) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest, "invalid request body"
	case errors.Is(err, services.ErrMissingFields):
		return http.StatusBadRequest, CodeMissingFields, "please enter all required information"
	case errors.Is(err, services.ErrPasswordMismatch):
		return http.StatusBadRequest, CodePasswordMismatch, "passwords do not match"
	case errors.Is(err, services.ErrInvalidEmail):
		return http.StatusBadRequest, CodeInvalidEmail, "please enter a valid username and email"
	case errors.As(err, &verr):
		return http.StatusBadRequest, CodeValidation, verr.Error()
	case errors.Is(err, services.ErrDuplicateAccount):
		return http.StatusBadRequest, CodeDuplicateAccount, "that username or email already exists"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials"
	case services.IsResetTokenError(err):
		return http.StatusBadRequest, CodeInvalidResetToken, "invalid or expired reset token"
	case errors.Is(err, services.ErrExpiredToken):
		return http.StatusUnauthorized, CodeSessionExpired, "session expired, please log in again"
	case errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrRevokedToken):
		return http.StatusUnauthorized, CodeUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrRewardNotFound):
		return http.StatusNotFound, CodeNotFound, "reward not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "not found"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal server error"
	}
}

func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.LogError(r.Context(), logger, "request failed", err)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
