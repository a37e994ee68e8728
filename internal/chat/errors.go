package chat

import (
	"errors"

	apperrors "pricewatch/internal/errors"
)

// Frame rejections. Each is answered with an error frame carrying its
// message; none of them closes the connection.
var (
	ErrEmptyText         = apperrors.NewAppValidationError("message text is required")
	ErrMissingMessageID  = apperrors.NewAppValidationError("messageId is required")
	ErrMessageNotFound   = apperrors.NewAppError(apperrors.ErrTypeNotFound, "message not found", nil)
	ErrGuestCannotDelete = apperrors.NewAuthorizationError("guests cannot delete messages")
	ErrNotAuthor         = apperrors.NewAuthorizationError("only the author can delete this message")
	ErrRateLimited       = apperrors.NewRateLimitError()

	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrMalformedFrame   = errors.New("invalid frame payload")
)

var (
	// ErrConnectionNotFound is returned for operations on an id that is not admitted
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrTransportClosed is returned when admission finds the transport already closed
	ErrTransportClosed = errors.New("transport closed before admission")
	// ErrGatewayClosed is returned by Admit after Shutdown
	ErrGatewayClosed = errors.New("gateway is shut down")
)
