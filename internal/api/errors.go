// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/pkg/errutil"
)

// StatusClientClosedRequest is reported when the caller went away while a
// request was waiting.
const StatusClientClosedRequest = 499

var codeStatus = map[string]int{
	CodeInvalidBody:              http.StatusBadRequest,
	CodeValidationFailed:         http.StatusBadRequest,
	CodeInvalidParam:             http.StatusBadRequest,
	CodeUnauthorized:             http.StatusUnauthorized,
	auth.CodeInvalidRequest:      http.StatusBadRequest,
	"PROFILE_INVALID_USER":       http.StatusBadRequest,
	"PROFILE_INVALID_ACCOUNT":    http.StatusBadRequest,
	"PROFILE_INVALID_LABEL":      http.StatusBadRequest,
	"PROFILE_INVALID_CREDENTIAL": http.StatusBadRequest,
	"ENROLL_WEAK_PASSPHRASE":     http.StatusBadRequest,
	"AUTH_PROFILE_DUPLICATE":     http.StatusConflict,
	auth.CodePromptFailed:        http.StatusBadGateway,
	"PROMPT_DELIVERY_FAILED":     http.StatusBadGateway,
}

// statusFor maps an error to the HTTP status reported to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrNoProfiles),
		errors.Is(err, auth.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	}
	if status, ok := codeStatus[errutil.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError reports err to the caller. Server errors are logged and their
// details withheld.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	body := errorBody{
		Code:      errutil.Code(err),
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		attrs := append(errutil.Attrs(err), "path", r.URL.Path, "request_id", body.RequestID)
		logger.Error("request failed", attrs...)
		body.Message = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(v)
}
