package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	assert.Equal(t, "not_found: gone", ErrNotFound.WithMessage("gone").Error())
	assert.Equal(t, "internal_error: boom (db down)",
		NewInternal("boom", errors.New("db down")).Error())
}

func TestError_CopiesDoNotMutateSentinel(t *testing.T) {
	custom := ErrBadRequest.WithMessage("missing id").WithDetails(map[string]any{"field": "id"})

	assert.Equal(t, "Invalid request", ErrBadRequest.Message)
	assert.Nil(t, ErrBadRequest.Details)
	assert.Equal(t, "missing id", custom.Message)
	assert.Equal(t, http.StatusBadRequest, custom.HTTPStatus)
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewInternal("failed to list integrations", cause)

	assert.ErrorIs(t, err, cause)
}

func TestAs_WrappedError(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewNotFound("integration", "abc"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	assert.Equal(t, "integration 'abc' not found", appErr.Message)
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", ErrInvalidSignature, http.StatusForbidden, "invalid_signature"},
		{"validation", NewValidation(map[string]any{"autoSave": "required"}), http.StatusUnprocessableEntity, "validation_error"},
		{"plain error", errors.New("oops"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			errBody := body["error"].(map[string]any)
			assert.Equal(t, tt.wantCode, errBody["code"])
		})
	}
}
