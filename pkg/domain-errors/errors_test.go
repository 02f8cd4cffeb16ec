package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	cause := errors.New("connection reset")
	inner := Wrap(cause, CodeInvariantViolation, "group resolution returned no contacts")
	outer := Wrap(inner, CodeInternal, "identify failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeInvariantViolation))
	assert.False(t, HasCode(outer, CodeValidation))
	assert.False(t, HasCode(cause, CodeInternal))
	assert.ErrorIs(t, outer, cause)
}

func TestIsMatchesOutermostCode(t *testing.T) {
	inner := New(CodeValidation, "email or phoneNumber is required")
	outer := Wrap(inner, CodeInternal, "identify failed")

	assert.True(t, Is(inner, CodeValidation))
	assert.True(t, Is(outer, CodeInternal))
	assert.False(t, Is(outer, CodeValidation))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeValidation, CodeOf(New(CodeValidation, "bad")))
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("tx: %w", New(CodeTimeout, "deadline"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInvariantViolation, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, ToHTTPStatus(tt.code))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid request body", New(CodeBadRequest, "invalid request body").Error())
	assert.Equal(t, "insert contact: boom", Wrap(errors.New("boom"), CodeInternal, "insert contact").Error())
}
