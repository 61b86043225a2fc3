package authzero

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/trisongz/authzero/apikey"
	"github.com/trisongz/authzero/claims"
	"github.com/trisongz/authzero/flows"
	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
)

// Hook runs against an identity during resolution. Pre-hooks run after
// session restore and before credential validation; post-hooks run after
// the identity is fully resolved and persisted. A hook error aborts the
// resolution.
type Hook func(ctx context.Context, id *Identity, req *Request) error

// Resolver turns inbound request credentials into resolved identities. It
// is immutable after Build and safe for concurrent use.
type Resolver struct {
	cfg      Config
	codec    *apikey.Codec
	verifier *claims.Verifier
	registry *flows.Registry

	sessionStore resource.Store
	mappingStore resource.Store
	tokenStore   resource.Store

	allowed       map[string]AllowedKey
	serviceHashes map[string]struct{}

	preHooks  []Hook
	postHooks []Hook
}

// Config returns a copy of the validated configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Flows exposes the flow registry for callers that build flows by name.
func (r *Resolver) Flows() *flows.Registry { return r.registry }

// Verifier exposes the claims verifier, mainly so operators can force a
// JWKS refresh after a known key rotation.
func (r *Resolver) Verifier() *claims.Verifier { return r.verifier }

// Resolve runs the full resolution state machine against one request:
// session restore, credential extraction, API-key or bearer validation
// (API key first, bearer as fallback), role resolution, persistence, and
// hooks.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Identity, error) {
	id := &Identity{
		CallerType:   CallerUser,
		Role:         RoleAnon,
		Attributes:   map[string]any{},
		Data:         map[string]any{},
		cookieName:   r.cfg.Session.CookieName,
		cookieSecure: r.cfg.SecureIngress(),
	}

	creds := ExtractCredentials(req, r.cfg.Headers)

	var restored *flows.SessionFlow
	if r.cfg.Session.Enabled {
		restored = r.restoreSession(ctx, req, id)
		// a live session seeds the api key so returning browsers
		// authenticate without re-presenting credentials
		if id.Session != nil && !creds.HasAPIKey() && id.Session.APIKey != "" {
			creds.APIKey = id.Session.APIKey
		}
	}

	for _, hook := range r.preHooks {
		if err := hook(ctx, id, req); err != nil {
			return nil, err
		}
	}

	if !creds.HasAPIKey() && !creds.HasToken() {
		return nil, ErrNoCredential
	}

	var resolveErr error
	if creds.HasAPIKey() {
		resolveErr = r.resolveAPIKey(ctx, id, req, creds)
		if resolveErr != nil && creds.HasToken() {
			if r.cfg.Verbose {
				log.Printf("authzero: api key path failed (%v), falling back to bearer", resolveErr)
			}
			resolveErr = r.resolveToken(ctx, id, req, creds)
		}
	} else {
		resolveErr = r.resolveToken(ctx, id, req, creds)
	}
	if resolveErr != nil {
		return nil, resolveErr
	}
	id.valid = true

	r.resolveRole(id)

	if err := r.persist(ctx, id, restored); err != nil {
		return nil, err
	}

	r.escalateFromEmail(id)
	if r.cfg.Hooks.RequestID {
		id.RequestID = uuid.NewString()
	}
	if r.cfg.Hooks.DomainSource {
		id.DomainSource = internal.DomainSource(req.Header.Get("Referer"))
	}
	for _, hook := range r.postHooks {
		if err := hook(ctx, id, req); err != nil {
			return nil, err
		}
	}

	if r.cfg.Verbose {
		log.Printf("authzero: resolved %s", id.Summary())
	}
	return id, nil
}

// restoreSession is best effort: store failures and stale cookies read as
// no session rather than failing the request.
func (r *Resolver) restoreSession(ctx context.Context, req *Request, id *Identity) *flows.SessionFlow {
	cookie, ok := req.Cookies[r.cfg.Session.CookieName]
	if !ok || cookie == "" {
		return nil
	}
	sf := flows.RestoreSessionFlow(ctx, r.sessionStore, r.mappingStore, cookie, r.sessionOptions())
	s, err := sf.Restore(ctx)
	if err != nil {
		log.Printf("authzero: session restore failed: %v", err)
		return nil
	}
	if s == nil {
		return nil
	}
	id.Session = s
	id.sessionKey = sf.CacheKey()
	if data, err := sf.LoadData(ctx); err == nil && len(data) > 0 {
		id.Attributes = data
	}
	return sf
}

func (r *Resolver) resolveRole(id *Identity) {
	if id.roleFixed {
		return
	}
	if id.User != nil {
		if name := id.User.MetadataRole(); name != "" {
			if role, err := ParseRole(name); err == nil {
				id.Escalate(role)
				return
			}
		}
	}
	if id.Claims != nil && len(id.Claims.Roles) > 0 {
		id.Escalate(MaxRole(id.Claims.Roles))
		return
	}
	if id.IsMachine() {
		id.Escalate(RoleService)
		return
	}
	id.Escalate(RoleUser)
}

// persist writes the durable side effects of a successful resolution: the
// caller's API key record and, for human callers with sessions enabled,
// the session plus its attribute bag.
func (r *Resolver) persist(ctx context.Context, id *Identity, restored *flows.SessionFlow) error {
	switch id.CallerType {
	case CallerUser:
		if id.APIKey == "" && id.UserID() != "" {
			key, err := r.mintKey(id.UserID(), r.cfg.APIKeys.Prefix)
			if err != nil {
				return err
			}
			id.APIKey = key
		}
		if id.UserID() != "" && id.User != nil && id.Claims != nil {
			if err := r.writeKeyRecord(ctx, id.UserID(), *id.User, id.Claims); err != nil {
				return err
			}
		}
	case CallerAPIClient:
		// the api-key and token paths already wrote the record
	case CallerService:
		// a service bearer gets a record keyed by its subject; hash-listed
		// service keys carry no user record and write nothing
		if id.UserID() != "" && id.User != nil && id.Claims != nil {
			if err := r.writeKeyRecord(ctx, id.UserID(), *id.User, id.Claims); err != nil {
				return err
			}
		}
		return nil
	default:
		// allow-listed keys carry no user record
		return nil
	}

	if !r.cfg.Session.Enabled || id.CallerType != CallerUser || id.UserID() == "" {
		return nil
	}
	sf := restored
	if sf == nil || sf.UserID() != id.UserID() {
		sf = flows.NewSessionFlow(r.sessionStore, r.mappingStore, id.UserID(), r.sessionOptions())
	}
	s, err := sf.Start(ctx, id.APIKey)
	if err != nil {
		return err
	}
	id.Session = s
	id.sessionKey = sf.CacheKey()
	if len(id.Attributes) > 0 {
		if err := sf.SaveData(ctx, id.Attributes, s.TTL()); err != nil {
			return err
		}
	}
	return nil
}

// SaveAttributes merges attrs into the identity and flushes them to the
// session's attribute bag when a session exists.
func (r *Resolver) SaveAttributes(ctx context.Context, id *Identity, attrs map[string]any) error {
	id.UpdateAttributes(attrs)
	if id.sessionKey == "" {
		return nil
	}
	sf := flows.RestoreSessionFlow(ctx, r.sessionStore, r.mappingStore, id.sessionKey, r.sessionOptions())
	ttl := r.cfg.Session.Expiry
	if id.Session != nil {
		ttl = id.Session.TTL()
	}
	return sf.SaveData(ctx, id.Attributes, ttl)
}

// Logout deletes the caller's session; with purgeData the attribute bag
// goes too. The returned cookie clears the browser state and is nil when
// no session existed.
func (r *Resolver) Logout(ctx context.Context, id *Identity, purgeData bool) (*http.Cookie, error) {
	if id.sessionKey == "" {
		return nil, nil
	}
	sf := flows.RestoreSessionFlow(ctx, r.sessionStore, r.mappingStore, id.sessionKey, r.sessionOptions())
	var err error
	if purgeData {
		err = sf.DeleteWithData(ctx)
	} else {
		err = sf.Delete(ctx)
	}
	if err != nil {
		return nil, err
	}
	cookie := id.SessionCookie(true)
	id.Session = nil
	return cookie, nil
}

func (r *Resolver) escalateFromEmail(id *Identity) {
	email := id.Email()
	if email == "" {
		return
	}
	if containsFold(r.cfg.Users.AdminEmails, email) {
		id.Escalate(RoleAdmin)
		return
	}
	if containsFold(r.cfg.Users.StaffEmailDomains, id.EmailDomain()) {
		id.Escalate(RoleStaff)
	}
}

// APIClientTokens builds the delegated token flow for calling another API
// on behalf of an api-client identity. Tokens are cached per endpoint,
// identity, and environment.
func (r *Resolver) APIClientTokens(endpoint, clientIdentity, clientEnv string) *flows.ClientCredentials {
	cfg := flows.TokenConfig{
		TokenURL:     r.cfg.Provider.OAuthTokenURL(),
		ClientID:     r.cfg.Provider.ClientID,
		ClientSecret: r.cfg.Provider.ClientSecret,
		Audience:     r.cfg.Provider.Audience,
		KeyPrefix:    r.cfg.Cache.KeyPrefix,
	}
	return flows.NewAPIClientCredentials(r.tokenStore, cfg, endpoint, clientIdentity, clientEnv)
}

// MintAPIKey issues a fresh user API key for a subject, for login surfaces
// that hand keys to first-time browsers.
func (r *Resolver) MintAPIKey(userID string) (string, error) {
	return r.mintKey(userID, r.cfg.APIKeys.Prefix)
}

func (r *Resolver) mintKey(identity, prefix string) (string, error) {
	payload, err := r.codec.Encrypt(identity)
	if err != nil {
		return "", err
	}
	return apikey.WrapKey(payload, prefix, r.cfg.APIKeys.Suffix), nil
}

// wrapDetail attaches the underlying cause to a sentinel outside
// production, where callers may echo error text to clients. Verbose
// overrides the gate.
func (r *Resolver) wrapDetail(sentinel, cause error) error {
	if r.cfg.Verbose || !r.cfg.IsProduction() {
		return fmt.Errorf("%w: %v", sentinel, cause)
	}
	return sentinel
}

func (r *Resolver) sessionOptions() flows.SessionOptions {
	return flows.SessionOptions{
		Expiry:  r.cfg.Session.Expiry,
		RawKeys: r.cfg.Session.RawKeys,
	}
}

func (r *Resolver) userFlow(userID string) *flows.UserData {
	fl, err := r.registry.Build(flows.FlowUserData, userID)
	if err != nil {
		return nil
	}
	return fl.(*flows.UserData)
}

func (r *Resolver) keyFlow(identity string) *flows.APIKeyData {
	fl, err := r.registry.Build(flows.FlowAPIKey, identity)
	if err != nil {
		return nil
	}
	return fl.(*flows.APIKeyData)
}

func (r *Resolver) writeKeyRecord(ctx context.Context, identity string, user flows.UserRecord, cl *claims.Claims) error {
	rec := flows.APIKeyRecord{User: user}
	if cl != nil {
		rec.Claims = cl.ForAPIKey()
	}
	return r.keyFlow(identity).Write(ctx, rec)
}
