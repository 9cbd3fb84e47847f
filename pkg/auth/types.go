package auth

import (
	"errors"
	"time"
)

var (
	// ErrInvalidToken covers malformed, unknown, revoked and expired tokens alike
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenNotFound is returned when revoking a token the user does not own
	ErrTokenNotFound = errors.New("token not found")
)

// APIToken represents an API token
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Usable reports whether the token is neither revoked nor expired at now
func (t *APIToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// AuthContext holds the authenticated actor for a request.
// Authorization decisions are made by rbac.Checker from UserID alone.
type AuthContext struct {
	UserID int64
	Token  *APIToken
}
