// Package identity wraps the hosted auth service: sessions, sign-in and
// sign-out, plus local persistence of the current session.
package identity

import (
	"context"
	"time"
)

// expiryLeeway treats a session as expired slightly early so a request made
// with it does not race the real expiry.
const expiryLeeway = 30 * time.Second

// User is the signed-in account.
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

// Session is an authenticated session with the identity service.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Expired reports whether the access token should no longer be used.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryLeeway).Before(s.ExpiresAt)
}

// SessionSource lends the current session to other components. A nil session
// with a nil error means nobody is signed in.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*Session, error)
}

// Static is a SessionSource that always returns the same session.
type Static struct {
	Session *Session
}

func (s Static) CurrentSession(context.Context) (*Session, error) {
	return s.Session, nil
}
