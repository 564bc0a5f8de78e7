// Package httperr maps datapond errors to HTTP responses.
package httperr

import (
	"encoding/json"
	"net/http"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/gateway/middleware"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrorCodeConflict       ErrorCode = "CONFLICT"
	ErrorCodeUploadFailed   ErrorCode = "UPLOAD_FAILED"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTooLarge       ErrorCode = "PAYLOAD_TOO_LARGE"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler writes error responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError writes the HTTP response for err.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, code := Classify(err)

	message := err.Error()
	if e, ok := errors.As(err); ok {
		message = e.Message
		if inner, ok := errors.Downstream(err); ok {
			message += ": " + inner.Message
		}
	}

	h.WriteErrorResponse(w, statusCode, code, message, middleware.RequestIDFromContext(r.Context()))
}

// Classify maps an error kind to an HTTP status and error code.
func Classify(err error) (int, ErrorCode) {
	switch errors.KindOf(err) {
	case errors.KindUnauthorized:
		return http.StatusForbidden, ErrorCodeForbidden
	case errors.KindNotFound:
		return http.StatusNotFound, ErrorCodeNotFound
	case errors.KindConflict:
		return http.StatusConflict, ErrorCodeConflict
	case errors.KindInvalidPayload:
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case errors.KindUploadError:
		return http.StatusBadGateway, ErrorCodeUploadFailed
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// WriteValidationError writes a 400 response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, r *http.Request, message string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, middleware.RequestIDFromContext(r.Context()))
}

// WriteTooLarge writes a 413 response.
func (h *Handler) WriteTooLarge(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, ErrorCodeTooLarge, "file exceeds the upload limit", middleware.RequestIDFromContext(r.Context()))
}
