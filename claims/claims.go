package claims

import (
	"strings"
	"time"
)

// MachineClientSuffix marks provider subjects that belong to machine clients
// (client-credentials grants) rather than human users.
const MachineClientSuffix = "@clients"

// Claims is the decoded, verified payload of a bearer token. The API-key
// shaped variant carries no timestamps; everything else is identical.
type Claims struct {
	Subject   string   `json:"sub"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Scopes splits the space-separated scope string.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// IsMachine reports whether the subject belongs to a machine client.
func (c *Claims) IsMachine() bool {
	return strings.HasSuffix(c.Subject, MachineClientSuffix)
}

func (c *Claims) IsExpired(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() >= c.ExpiresAt
}

// ForAPIKey returns a copy with the timestamps dropped. Claims cached beside
// an API key never expire on their own; freshness is gated by the embedded
// user record instead.
func (c *Claims) ForAPIKey() *Claims {
	cp := *c
	cp.IssuedAt = 0
	cp.ExpiresAt = 0
	return &cp
}
