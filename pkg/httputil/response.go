package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
	"github.com/SaleDjerfi/shopit/pkg/logger"
	"github.com/SaleDjerfi/shopit/pkg/validator"
)

// Response is the JSON envelope every catalog endpoint answers with.
type Response struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// Fail writes an error envelope. The top-level message repeats e.Message so
// clients that only read message still see why the request failed.
func Fail(w http.ResponseWriter, status int, e *ErrorResponse) {
	WriteJSON(w, status, Response{Message: e.Message, Error: e})
}

// OK writes a 200 success envelope carrying data.
func OK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// Created writes a 201 success envelope carrying data.
func Created(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: data})
}

// Message writes a 200 success envelope with a human-readable message only.
func Message(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Message: msg})
}

// WriteError maps err onto the error envelope. AppErrors carry their own code
// and status; validator errors become VALIDATION_ERROR with field details; bare
// sentinels are mapped by kind. Anything else is a 500 whose cause is logged
// and never echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		Fail(w, http.StatusBadRequest, &ErrorResponse{
			Code:      apperrors.CodeValidation,
			Message:   "request validation failed",
			Fields:    valErr.Fields(),
			RequestID: requestID,
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Status >= http.StatusInternalServerError {
			logInternal(r, l, err)
		}
		Fail(w, appErr.Status, &ErrorResponse{Code: appErr.Code, Message: appErr.Message, RequestID: requestID})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeInternal
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code, message = apperrors.CodeNotFound, "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		code, message = apperrors.CodeAlreadyExists, "resource already exists"
	case errors.Is(err, apperrors.ErrConflict):
		code, message = apperrors.CodeConflict, "concurrent modification, retry the request"
	case errors.Is(err, apperrors.ErrInvalidInput):
		code, message = apperrors.CodeValidation, err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		code, message = apperrors.CodeUnauthenticated, "login first to access this resource"
	case errors.Is(err, apperrors.ErrForbidden):
		code, message = apperrors.CodeForbidden, "you are not allowed to access this resource"
	case errors.Is(err, apperrors.ErrRateLimited):
		code, message = apperrors.CodeRateLimited, "too many requests"
	}

	if status == http.StatusInternalServerError {
		logInternal(r, l, err)
	}

	Fail(w, status, &ErrorResponse{Code: code, Message: message, RequestID: requestID})
}

func logInternal(r *http.Request, l *slog.Logger, err error) {
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}

// PaginatedResponse is a generic paginated list response envelope.
type PaginatedResponse[T any] struct {
	Success    bool `json:"success"`
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// NewPaginatedResponse constructs a PaginatedResponse from the given data, total
// count, page, and per-page values. It computes TotalPages and HasNext.
func NewPaginatedResponse[T any](data []T, totalCount, page, perPage int) PaginatedResponse[T] {
	totalPages := 0
	if perPage > 0 {
		totalPages = totalCount / perPage
		if totalCount%perPage > 0 {
			totalPages++
		}
	}
	if data == nil {
		data = []T{}
	}
	return PaginatedResponse[T]{
		Success:    true,
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// ParseUUID validates that the given string is a valid UUID and returns it.
// If invalid, it writes a 400 VALIDATION_ERROR response and returns false,
// signaling the caller to return early.
func ParseUUID(w http.ResponseWriter, name, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		Fail(w, http.StatusBadRequest, &ErrorResponse{
			Code:    apperrors.CodeValidation,
			Message: "invalid " + name + ": " + param,
			Fields:  map[string]string{name: "must be a valid UUID"},
		})
		return uuid.Nil, false
	}
	return id, true
}
