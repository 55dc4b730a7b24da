package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"leadflow/api/internal/auth"
	"leadflow/api/internal/authpw"
	"leadflow/api/internal/keyvault"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/whatsapp"
	"leadflow/api/internal/workflow"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authorization", nil)
	errRateLimited  = domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", nil)
	errNoAIKey      = domainError(http.StatusBadRequest, "AI_KEY_MISSING", "No OpenAI API key configured", nil)
)

// mapError turns any error into the status and code sent to the caller.
// Provider errors keep their upstream status in the message.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, "AI_PROVIDER_ERROR", apiErr.Error(), nil
	}
	var hookErr *workflow.StatusError
	if errors.As(err, &hookErr) {
		return http.StatusBadGateway, "WEBHOOK_ERROR", hookErr.Error(), nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return http.StatusBadRequest, "RESET_FAILED", err.Error(), nil
	case errors.Is(err, openai.ErrNoAPIKey):
		return errNoAIKey.Status, errNoAIKey.Code, errNoAIKey.Message, nil
	case errors.Is(err, keyvault.ErrNoKey):
		return http.StatusServiceUnavailable, "ENCRYPTION_NOT_CONFIGURED", "Key encryption is not configured", nil
	case errors.Is(err, workflow.ErrNotConfigured):
		return http.StatusServiceUnavailable, "WORKFLOW_NOT_CONFIGURED", err.Error(), nil
	case errors.Is(err, whatsapp.ErrNotConfigured):
		return http.StatusServiceUnavailable, "WHATSAPP_NOT_CONFIGURED", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", err.Error(), nil
}
