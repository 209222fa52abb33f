package gateway

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// NewErrorResponse maps err to a status code and a client-safe message.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{Error: PublicMessage(err), Status: StatusFor(err)}
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if stderrors.Is(err, errors.ErrRateLimited) {
		return http.StatusTooManyRequests
	}

	switch errors.Classify(err) {
	case errors.ErrorInvalid:
		return http.StatusBadRequest
	case errors.ErrorNotFound:
		return http.StatusNotFound
	case errors.ErrorTransient:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message that never exposes paths, subjects or
// internal component names. Request errors keep their own text.
func PublicMessage(err error) string {
	var reqErr *RequestError
	if stderrors.As(err, &reqErr) {
		return reqErr.Message
	}

	switch StatusFor(err) {
	case http.StatusBadRequest:
		if stderrors.Is(err, container.ErrUnsupportedFormat) {
			return container.ErrUnsupportedFormat.Error()
		}
		return "invalid request"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}
