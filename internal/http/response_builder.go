// This file implements a small builder for JSON responses and the mapping
// from ledger errors to HTTP status codes.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	payload    any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.payload != nil {
		_ = json.NewEncoder(w).Encode(b.payload)
	}
}

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(ErrorBody{Error: message, Code: code})
}

// classifyError maps an error onto a status code and a stable error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "invalid_reference"
	case errors.Is(err, core.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, "invalid_operation"
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, core.ErrConcurrencyConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError logs err and writes its mapped response. Internal errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classifyError(err)
	logger := log.FromContext(r.Context())

	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op,
			log.FieldPath, r.URL.Path,
			log.FieldError, err)
		message = "internal server error"
	} else {
		logger.WarnContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	ErrorResponse(status, code, message).Write(w)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
