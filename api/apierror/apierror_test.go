package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/careconnect/backend/api/apierror"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *apierror.Error
		want int
	}{
		{apierror.Authentication("Token expired"), http.StatusUnauthorized},
		{apierror.Forbidden("no"), http.StatusForbidden},
		{apierror.Validation("Missing param: user_id"), http.StatusBadRequest},
		{apierror.NotFound("Rule not found"), http.StatusNotFound},
		{apierror.Upstream(http.StatusConflict, "duplicate key", nil), http.StatusConflict},
		{apierror.Upstream(0, "no status", nil), http.StatusBadGateway},
		{apierror.Internal("internal server error", errors.New("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestAs_ThroughWrapping(t *testing.T) {
	base := apierror.NotFound("Care request not found")
	wrapped := fmt.Errorf("apply: %w", base)

	got, ok := apierror.As(wrapped)
	assert.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, apierror.Is(wrapped, apierror.KindNotFound))
	assert.False(t, apierror.Is(wrapped, apierror.KindValidation))
	assert.Equal(t, apierror.KindInternal, apierror.KindOf(errors.New("plain")))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apierror.Internal("internal server error", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
