package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "pricewatch/internal/errors"
)

// Frame types, inbound and outbound
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameDelete  = "delete"
	FrameError   = "error"
)

// InboundFrame is a decoded client frame in canonical shape: legacy field
// names have already been folded into Text.
type InboundFrame struct {
	Type      string
	Text      string
	MessageID string
}

// rawInbound accepts every field name clients have used. Pointer fields
// tell an absent field from an empty one.
type rawInbound struct {
	Type      *string `json:"type"`
	Text      *string `json:"text"`
	Content   *string `json:"content"` // legacy name for text
	MessageID *string `json:"messageId"`
}

// DecodeInbound parses a client frame. A payload that is not a JSON object
// with a string "type" is a malformed frame. The type itself is not checked
// here.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return InboundFrame{}, apperrors.NewMalformedFrameError(fmt.Errorf("%w: %v", ErrMalformedFrame, err))
	}
	if raw.Type == nil || *raw.Type == "" {
		return InboundFrame{}, apperrors.NewMalformedFrameError(fmt.Errorf("%w: missing type", ErrMalformedFrame))
	}

	f := InboundFrame{Type: *raw.Type}
	switch {
	case raw.Text != nil && strings.TrimSpace(*raw.Text) != "":
		f.Text = *raw.Text
	case raw.Content != nil:
		f.Text = *raw.Content
	}
	if raw.MessageID != nil {
		f.MessageID = strings.TrimSpace(*raw.MessageID)
	}
	return f, nil
}

type historyFrame struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

type messageFrame struct {
	Type string `json:"type"`
	Message
}

type deleteFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeHistory encodes the history snapshot sent to a newly admitted connection
func EncodeHistory(messages []Message) []byte {
	if messages == nil {
		messages = []Message{}
	}
	return mustEncode(historyFrame{Type: FrameHistory, Messages: messages})
}

// EncodeMessage encodes a posted message. The message fields sit at the top
// level of the frame next to "type".
func EncodeMessage(m Message) []byte {
	return mustEncode(messageFrame{Type: FrameMessage, Message: m})
}

// EncodeDelete encodes a deletion notice
func EncodeDelete(messageID string) []byte {
	return mustEncode(deleteFrame{Type: FrameDelete, MessageID: messageID})
}

// EncodeError encodes an error reply
func EncodeError(text string) []byte {
	return mustEncode(errorFrame{Type: FrameError, Message: text})
}

// mustEncode marshals frames built only from strings, times and slices of
// them, which cannot fail.
func mustEncode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("chat: encode frame: %v", err))
	}
	return data
}
