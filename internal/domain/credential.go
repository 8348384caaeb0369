package domain

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is a short-lived access token plus what could be read from its
// claims. ExpiresAt is zero and Subject empty for opaque tokens.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
	Subject     string
}

type accessClaims struct {
	jwt.RegisteredClaims
	UserID any `json:"user_id,omitempty"`
}

// NewCredential wraps an access token, reading exp and sub (or user_id)
// without verifying the signature. Verification is the backend's job; the
// claims only drive proactive refresh and logging.
func NewCredential(accessToken string) *Credential {
	c := &Credential{AccessToken: accessToken}

	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return c
	}
	if claims.ExpiresAt != nil {
		c.ExpiresAt = claims.ExpiresAt.Time
	}
	switch {
	case claims.Subject != "":
		c.Subject = claims.Subject
	case claims.UserID != nil:
		c.Subject = formatUserID(claims.UserID)
	}
	return c
}

func formatUserID(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

// Expired reports whether the token is past its expiry, less skew. Tokens
// without a known expiry never report as expired.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// Same reports whether two credentials carry the same access token.
func (c *Credential) Same(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.AccessToken == other.AccessToken
}
