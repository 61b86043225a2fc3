package flows

import (
	"strings"
	"time"

	"github.com/trisongz/authzero/claims"
)

// timeNow is swapped in tests to drive expiry deterministically.
var timeNow = time.Now

// TokenSafetyMargin is subtracted from a token's nominal lifetime so a
// cached token is never used while it expires mid-flight.
const TokenSafetyMargin = 60 * time.Second

// AccessToken is a provider-issued bearer token from a client-credentials
// exchange.
type AccessToken struct {
	Token     string `json:"access_token"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
	Scope     string `json:"scope,omitempty"`
	// IssuedAt is stamped locally when the token is obtained.
	IssuedAt int64 `json:"issued_at,omitempty"`
}

// ExpiresAt is the moment the token stops being served, safety margin
// already applied.
func (t AccessToken) ExpiresAt() time.Time {
	return time.Unix(t.IssuedAt+t.ExpiresIn, 0).Add(-TokenSafetyMargin)
}

func (t AccessToken) IsExpired() bool {
	return !timeNow().Before(t.ExpiresAt())
}

// AuthHeader renders the Authorization header value for the token.
func (t AccessToken) AuthHeader() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.Token
}

// UserRecord is the provider's view of a user, or a locally synthesized
// stand-in for a machine client.
type UserRecord struct {
	UserID        string         `json:"user_id"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Name          string         `json:"name,omitempty"`
	Multifactor   []string       `json:"multifactor,omitempty"`
	AppMetadata   map[string]any `json:"app_metadata,omitempty"`
	UserMetadata  map[string]any `json:"user_metadata,omitempty"`
	Machine       bool           `json:"machine,omitempty"`
	// ExpiresAt is a unix timestamp; zero means the record never goes stale.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

func (u UserRecord) IsExpired() bool {
	return u.ExpiresAt > 0 && timeNow().Unix() >= u.ExpiresAt
}

// EmailDomain returns the part after "@", lowercased, or "".
func (u UserRecord) EmailDomain() string {
	if i := strings.LastIndexByte(u.Email, '@'); i >= 0 {
		return strings.ToLower(u.Email[i+1:])
	}
	return ""
}

// MetadataRole returns the role name pinned in app metadata, if any.
func (u UserRecord) MetadataRole() string {
	if u.AppMetadata == nil {
		return ""
	}
	if v, ok := u.AppMetadata["role"].(string); ok {
		return v
	}
	return ""
}

// APIKeyRecord pairs a cached user record with its API-key shaped claims.
// The two halves are always written together; a record whose claims are
// missing is treated as expired.
type APIKeyRecord struct {
	User   UserRecord     `json:"user_data"`
	Claims *claims.Claims `json:"claims,omitempty"`
}

// Session is the browser-side continuity record tying a cookie value back
// to a user and their current API key.
type Session struct {
	UserID    string `json:"user_id"`
	APIKey    string `json:"api_key,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s Session) IsExpired() bool {
	return s.ExpiresAt > 0 && timeNow().Unix() >= s.ExpiresAt
}

// TTL is the remaining lifetime, floored at zero.
func (s Session) TTL() time.Duration {
	remaining := time.Unix(s.ExpiresAt, 0).Sub(timeNow())
	if remaining < 0 {
		return 0
	}
	return remaining
}
