package identity

import (
	"context"
	"net/http"
	"strings"
)

// GuestName is the display name given to every unauthenticated connection
const GuestName = "Guest"

// Identity is who a connection speaks as. It is resolved once, before the
// connection is admitted, and never changes afterwards.
type Identity struct {
	UserID      string
	DisplayName string
}

// Guest returns the identity of an unauthenticated connection
func Guest() Identity {
	return Identity{DisplayName: GuestName}
}

// Authenticated returns the identity of a verified user
func Authenticated(userID, displayName string) Identity {
	return Identity{UserID: userID, DisplayName: displayName}
}

// IsGuest reports whether the identity carries no user id
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// Principal is what a CredentialVerifier learns about the holder of a credential
type Principal struct {
	UserID string
	Name   string
	Email  string
}

// CredentialVerifier checks an opaque credential and returns its holder
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (Principal, error)
}

// CredentialFromRequest extracts the credential presented on a connection
// request: the "token" query parameter, or an Authorization Bearer header.
// Browsers cannot set headers on WebSocket requests, hence the query form.
func CredentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
