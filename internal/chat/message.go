package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pricewatch/internal/identity"
)

// Message is one chat message. AuthorID is nil for guest posts, which is
// what makes them undeletable.
type Message struct {
	ID         string    `json:"id"`
	AuthorID   *string   `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewMessage builds a message posted by author. text must already be normalized.
func NewMessage(author identity.Identity, text string, now time.Time) Message {
	m := Message{
		ID:         uuid.NewString(),
		AuthorName: author.DisplayName,
		Text:       text,
		CreatedAt:  now.UTC(),
	}
	if !author.IsGuest() {
		id := author.UserID
		m.AuthorID = &id
	}
	return m
}

// AuthoredBy reports whether the message was posted by the given identity.
// Guests author nothing.
func (m Message) AuthoredBy(who identity.Identity) bool {
	if who.IsGuest() || m.AuthorID == nil {
		return false
	}
	return *m.AuthorID == who.UserID
}

// NormalizeText trims surrounding whitespace and caps the result at
// maxRunes runes. maxRunes <= 0 disables the cap.
func NormalizeText(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i]
		}
		n++
	}
	return text
}
