package gateway

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/errors"
)

func TestStatusForAndPublicMessage(t *testing.T) {
	_, unsupported := container.Open(filepath.Join(t.TempDir(), "secret", "model.h5"))

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"request error", BadRequest("GetSeries", "missing %s", "run"), http.StatusBadRequest, "missing run"},
		{"unsupported container", unsupported, http.StatusBadRequest, "unsupported container format"},
		{"other invalid", errors.WrapInvalid(errors.ErrDecode, "c", "m", "a"), http.StatusBadRequest, "invalid request"},
		{"not found", errors.WrapNotFound(errors.ErrNotFound, "c", "m", "a"), http.StatusNotFound, "resource not found"},
		{"rate limited", fmt.Errorf("x: %w", errors.ErrRateLimited), http.StatusTooManyRequests, "rate limit exceeded"},
		{"deadline", errors.WrapTransient(context.DeadlineExceeded, "c", "m", "a"), http.StatusGatewayTimeout, "request timeout"},
		{"transient", errors.WrapTransient(errors.ErrIO, "c", "m", "a"), http.StatusServiceUnavailable, "service temporarily unavailable"},
		{"fatal", errors.WrapFatal(errors.ErrIO, "c", "m", "a"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))
			msg := PublicMessage(tt.err)
			assert.Equal(t, tt.message, msg)
			assert.NotContains(t, msg, "secret")
		})
	}
}
