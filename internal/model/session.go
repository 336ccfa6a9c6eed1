package model

import "time"

// User is a local mirror of an identity held by the passhroom provider.
type User struct {
	PasshroomUserID string    `json:"passhroom_user_id"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
