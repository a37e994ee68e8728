package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NewAppValidationError("message text is required"),
			want: "[VALIDATION] message text is required",
		},
		{
			name: "with cause",
			err:  NewMalformedFrameError(fmt.Errorf("unexpected EOF")),
			want: "[MALFORMED_FRAME] malformed frame: unexpected EOF",
		},
		{
			name: "not found",
			err:  NewNotFoundError("message"),
			want: "[NOT_FOUND] message not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	sentinel := errors.New("dial tcp: refused")
	err := NewStorageError("user lookup failed", sentinel)

	assert.True(t, errors.Is(err, sentinel))

	wrapped := fmt.Errorf("resolve: %w", err)
	var appErr *AppError
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, ErrTypeStorage, appErr.Type)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAuthorizationError("only the author can delete this message").
		WithContext("message_id", "m1").
		WithContext("requester", "u2")

	assert.Equal(t, "m1", err.Context["message_id"])
	assert.Equal(t, "u2", err.Context["requester"])

	bare := &AppError{Type: ErrTypeConfig, Message: "x"}
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}

func TestConstructorTypes(t *testing.T) {
	tests := []struct {
		err  *AppError
		want ErrorType
	}{
		{NewMalformedFrameError(nil), ErrTypeMalformedFrame},
		{NewAppValidationError("v"), ErrTypeValidation},
		{NewNotFoundError("r"), ErrTypeNotFound},
		{NewAuthorizationError("a"), ErrTypeAuthorization},
		{NewCredentialError("c", nil), ErrTypeCredential},
		{NewRateLimitError(), ErrTypeRateLimit},
		{NewStorageError("s", nil), ErrTypeStorage},
		{NewConfigError("c", nil), ErrTypeConfig},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Type)
			assert.NotNil(t, tt.err.Context)
		})
	}
	assert.Equal(t, "rate limit exceeded", NewRateLimitError().Message)
}

func TestClientMessage(t *testing.T) {
	assert.Equal(t, "guests cannot delete messages",
		ClientMessage(NewAuthorizationError("guests cannot delete messages"), "fallback"))

	wrapped := fmt.Errorf("gateway: %w", NewAppValidationError("messageId is required"))
	assert.Equal(t, "messageId is required", ClientMessage(wrapped, "fallback"))

	assert.Equal(t, "fallback", ClientMessage(errors.New("plain"), "fallback"))
	assert.Equal(t, "fallback", ClientMessage(nil, "fallback"))
}
