package authzero

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/trisongz/authzero/claims"
	"github.com/trisongz/authzero/flows"
)

// CallerType classifies who or what made the request.
type CallerType string

const (
	// CallerUser is a human authenticated by a user token or user API key.
	CallerUser CallerType = "user"
	// CallerService is a machine client using its own bearer token or a
	// hash-listed service key.
	CallerService CallerType = "service"
	// CallerAPIClient is a machine client acting as a named sub-identity.
	CallerAPIClient CallerType = "api_client"
	// CallerAllowed is a statically allow-listed key.
	CallerAllowed CallerType = "allowed"
)

// ValidationMethod records which credential path resolved the caller.
type ValidationMethod string

const (
	MethodAPIKey ValidationMethod = "api_key"
	MethodToken  ValidationMethod = "token"
)

// Identity is the outcome of one resolution: who the caller is, how they
// proved it, and everything downstream handlers need to authorize them.
// An Identity is request-scoped and not safe for concurrent mutation.
type Identity struct {
	CallerType CallerType
	Role       Role

	// ClientName is set for allow-listed callers.
	ClientName string

	// APIKey is the caller's current key, presented or freshly minted.
	APIKey string

	Claims  *claims.Claims
	User    *flows.UserRecord
	Session *flows.Session

	ValidationMethod ValidationMethod

	// RequestID is stamped by the request-id hook.
	RequestID string
	// DomainSource is the requesting registered domain, when derivable.
	DomainSource string

	// Attributes persist in the session's attribute bag across requests.
	// Data lives only for this request.
	Attributes map[string]any
	Data       map[string]any

	valid        bool
	roleFixed    bool
	sessionKey   string
	cookieName   string
	cookieSecure bool
}

// Valid reports whether resolution succeeded.
func (id *Identity) Valid() bool { return id.valid }

// UserID returns the resolved subject: the claims subject when present,
// otherwise the cached user record's id.
func (id *Identity) UserID() string {
	if id.Claims != nil && id.Claims.Subject != "" {
		return id.Claims.Subject
	}
	if id.User != nil {
		return id.User.UserID
	}
	return ""
}

func (id *Identity) Email() string {
	if id.User != nil {
		return id.User.Email
	}
	return ""
}

func (id *Identity) EmailDomain() string {
	if id.User != nil {
		return id.User.EmailDomain()
	}
	return ""
}

// IsMachine reports whether the caller is a machine client.
func (id *Identity) IsMachine() bool {
	return id.Claims != nil && id.Claims.IsMachine()
}

// Escalate raises the role. Downgrades are ignored; a resolved role never
// decreases within a request.
func (id *Identity) Escalate(role Role) {
	if role.Level() > id.Role.Level() {
		id.Role = role
	}
}

func (id *Identity) HasRole(role Role) bool {
	return id.Role.AtLeast(role)
}

// RequireRole returns ErrInsufficientPermissions when the identity sits
// below the required role.
func (id *Identity) RequireRole(role Role) error {
	if !id.HasRole(role) {
		return fmt.Errorf("%w: role %s requires %s", ErrInsufficientPermissions, id.Role, role)
	}
	return nil
}

func (id *Identity) HasScope(scope string) bool {
	return id.Claims != nil && id.Claims.HasScope(scope)
}

// RequireScopes returns ErrInsufficientPermissions unless every scope is
// granted.
func (id *Identity) RequireScopes(scopes ...string) error {
	for _, s := range scopes {
		if !id.HasScope(s) {
			return fmt.Errorf("%w: missing scope %s", ErrInsufficientPermissions, s)
		}
	}
	return nil
}

// UpdateAttributes merges attrs into the persistent attribute bag. Nested
// maps merge recursively, lists extend without duplicates, scalars
// overwrite.
func (id *Identity) UpdateAttributes(attrs map[string]any) {
	if id.Attributes == nil {
		id.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		id.Attributes[k] = mergeAttribute(id.Attributes[k], v)
	}
}

func mergeAttribute(existing, update any) any {
	switch upd := update.(type) {
	case map[string]any:
		cur, ok := existing.(map[string]any)
		if !ok {
			return upd
		}
		for k, v := range upd {
			cur[k] = mergeAttribute(cur[k], v)
		}
		return cur
	case []any:
		cur, ok := existing.([]any)
		if !ok {
			return upd
		}
		for _, v := range upd {
			if !sliceHas(cur, v) {
				cur = append(cur, v)
			}
		}
		return cur
	default:
		return update
	}
}

func sliceHas(list []any, v any) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// Snapshot renders the identity as a flat map for whoami-style responses.
func (id *Identity) Snapshot() map[string]any {
	out := map[string]any{
		"caller_type":       string(id.CallerType),
		"role":              string(id.Role),
		"validation_method": string(id.ValidationMethod),
		"valid":             id.valid,
	}
	if uid := id.UserID(); uid != "" {
		out["user_id"] = uid
	}
	if email := id.Email(); email != "" {
		out["email"] = email
	}
	if id.ClientName != "" {
		out["client_name"] = id.ClientName
	}
	if id.Claims != nil && id.Claims.Scope != "" {
		out["scopes"] = id.Claims.Scopes()
	}
	if id.RequestID != "" {
		out["request_id"] = id.RequestID
	}
	if id.DomainSource != "" {
		out["domain_source"] = id.DomainSource
	}
	if id.Session != nil {
		out["session_expires_at"] = id.Session.ExpiresAt
	}
	return out
}

// SessionCookie returns the cookie carrying the caller's session, or nil
// when no session exists. With del true the cookie instructs the browser to
// drop it.
func (id *Identity) SessionCookie(del bool) *http.Cookie {
	if id.sessionKey == "" || id.cookieName == "" {
		return nil
	}
	c := &http.Cookie{
		Name:     id.cookieName,
		Value:    id.sessionKey,
		Path:     "/",
		HttpOnly: true,
		Secure:   id.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if del {
		c.Value = ""
		c.MaxAge = -1
		return c
	}
	if id.Session != nil {
		c.Expires = time.Unix(id.Session.ExpiresAt, 0)
	}
	return c
}

// Summary is a single log line describing the resolution.
func (id *Identity) Summary() string {
	var b strings.Builder
	b.WriteString(string(id.CallerType))
	b.WriteString("/")
	b.WriteString(string(id.Role))
	if uid := id.UserID(); uid != "" {
		b.WriteString(" ")
		b.WriteString(uid)
	}
	b.WriteString(" via ")
	b.WriteString(string(id.ValidationMethod))
	return b.String()
}
