package identity

import (
	"net/http"
	"time"
)

const (
	SessionCookieName = "sessionId"
	TokenCookieName   = "token"
	SessionCookieTTL  = 24 * time.Hour
)

// CookiePolicy describes the anonymous session cookie.
type CookiePolicy struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// DefaultCookiePolicy is a 24h httpOnly cookie named sessionId.
func DefaultCookiePolicy() CookiePolicy {
	return CookiePolicy{Name: SessionCookieName, TTL: SessionCookieTTL}
}

// Issue builds the cookie carrying sessionID, valid for TTL from now.
func (p CookiePolicy) Issue(sessionID string, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     p.Name,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(p.TTL / time.Second),
		Expires:  now.Add(p.TTL),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
