// Package users looks up the accounts behind verified credentials. MongoDirectory
// reads the users collection; CachedDirectory fronts any Directory with Redis.
package users

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when no account matches the requested id
var ErrUserNotFound = errors.New("user not found")

// User is the slice of an account the chat gateway needs
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// DisplayName returns the name shown next to the user's messages:
// the account name, or the e-mail address when no name is set.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Directory looks up accounts by id
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
}
