package authzero

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/trisongz/authzero/apikey"
)

// Insecure development fallbacks for the API key cipher. Validate installs
// them outside production so local stacks work without secrets, and refuses
// to start production without real ones.
const (
	devSecretKey = "abc123abc123abc1"
	devAccessKey = "321bca321bca321b"
)

// AppConfig identifies the deployment. Name, environment, and ingress feed
// cache namespacing, cookie naming, and key-prefix derivation.
type AppConfig struct {
	Name string
	// Env is the deployment environment, e.g. "development", "staging",
	// "production".
	Env string
	// Ingress is the externally reachable URL. Its scheme decides cookie
	// security; a bare host gets https:// unless it looks local.
	Ingress string
}

// ProviderConfig points at the identity provider tenant. Only Domain,
// ClientID, and ClientSecret are required; endpoint URLs derive from Domain
// unless overridden.
type ProviderConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string

	// Audience is the primary API audience. Audiences extends the accepted
	// set; Audience is merged in automatically.
	Audience  string
	Audiences []string

	// Optional derived-URL overrides.
	TokenURL      string
	JWKSURL       string
	ManagementURL string

	// RolesClaim names a custom token claim carrying role names.
	RolesClaim string
	// JWKSRefreshInterval re-fetches signing keys on kid misses at most this
	// often. Zero fetches once per process.
	JWKSRefreshInterval time.Duration
}

// Tenant returns the provider tenant base URL.
func (p ProviderConfig) Tenant() string { return "https://" + p.Domain }

// Issuer is the exact iss claim the tenant stamps on tokens.
func (p ProviderConfig) Issuer() string { return p.Tenant() + "/" }

func (p ProviderConfig) OAuthTokenURL() string {
	if p.TokenURL != "" {
		return p.TokenURL
	}
	return p.Tenant() + "/oauth/token"
}

func (p ProviderConfig) KeySetURL() string {
	if p.JWKSURL != "" {
		return p.JWKSURL
	}
	return p.Tenant() + "/.well-known/jwks.json"
}

func (p ProviderConfig) ManagementAPIURL() string {
	if p.ManagementURL != "" {
		return p.ManagementURL
	}
	return p.Tenant() + "/api/v2/"
}

// HeaderConfig names the request surfaces credentials are read from. Each
// name is also checked against cookies.
type HeaderConfig struct {
	Authorization       string
	AuthorizationScheme string
	APIKey              string
	APIClientID         string
	APIClientEnv        string
}

// APIKeyConfig governs API key encryption and routing.
type APIKeyConfig struct {
	// SecretKey and AccessKey are the 16-byte cipher key and IV. Changing
	// either invalidates every issued key.
	SecretKey string
	AccessKey string

	// Prefix routes user keys and ClientPrefix routes api-client keys.
	// Suffix, when set, is appended to every minted key.
	Prefix       string
	ClientPrefix string
	Suffix       string

	// AllowedKeys are statically accepted keys in "key[:client[:role]]"
	// form. They bypass decryption entirely.
	AllowedKeys []string

	// ServiceKeyHashes are hex sha256 digests of accepted service keys.
	// Service keys carry no routing prefix.
	ServiceKeyHashes []string
}

// AllowedKey is one parsed AllowedKeys entry.
type AllowedKey struct {
	Key        string
	ClientName string
	Role       Role
}

// SessionConfig governs browser session continuity.
type SessionConfig struct {
	Enabled bool
	// CookieName defaults to "{app}-{env}-session".
	CookieName string
	// Expiry is the sliding session lifetime.
	Expiry time.Duration
	// RawKeys disables hashing user ids into session cache keys.
	RawKeys bool
}

// CacheConfig governs the Redis namespace layout.
type CacheConfig struct {
	// BaseKey is the root namespace segment.
	BaseKey string
	// KeyPrefix namespaces token cache keys per deployment; derived from the
	// app identity when empty.
	KeyPrefix string
}

// UserConfig governs user record caching and email-based role escalation.
type UserConfig struct {
	// DataExpiry is how long a provider user record stays fresh.
	DataExpiry time.Duration
	// AdminEmails escalate matching users to ADMIN after resolution.
	AdminEmails []string
	// StaffEmailDomains escalate users with matching email domains to STAFF.
	StaffEmailDomains []string
}

// HookConfig toggles the built-in post-resolution hooks.
type HookConfig struct {
	// RequestID stamps a fresh uuid on every resolved identity.
	RequestID bool
	// DomainSource derives the requesting registered domain from Referer.
	DomainSource bool
}

// Config is the full engine configuration. Start from DefaultConfig,
// overwrite what differs, and let Validate fill the derived fields.
type Config struct {
	App      AppConfig
	Provider ProviderConfig
	Headers  HeaderConfig
	APIKeys  APIKeyConfig
	Session  SessionConfig
	Cache    CacheConfig
	Users    UserConfig
	Hooks    HookConfig

	// Verbose enables per-resolution logging.
	Verbose bool

	allowed []AllowedKey
}

// DefaultConfig returns the baseline configuration with every tunable at
// its documented default.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Env: "development"},
		Headers: HeaderConfig{
			Authorization:       "authorization",
			AuthorizationScheme: "bearer",
			APIKey:              "x-api-key",
			APIClientID:         "x-az-client-id",
			APIClientEnv:        "x-az-client-env",
		},
		APIKeys: APIKeyConfig{
			Prefix:       "xai-",
			ClientPrefix: "xaic-",
		},
		Session: SessionConfig{
			Enabled: true,
			Expiry:  30 * 24 * time.Hour,
		},
		Cache: CacheConfig{BaseKey: "authzero"},
		Users: UserConfig{DataExpiry: 7 * 24 * time.Hour},
		Hooks: HookConfig{RequestID: true},
	}
}

// IsProduction reports whether the deployment environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// SecureIngress reports whether session cookies should be marked Secure.
func (c *Config) SecureIngress() bool {
	return strings.HasPrefix(c.App.Ingress, "https://")
}

// AllowedKeyEntries returns the parsed allow list. Populated by Validate.
func (c *Config) AllowedKeyEntries() []AllowedKey { return c.allowed }

// Validate normalizes the configuration, derives every dependent field, and
// returns the first fatal problem. Missing cipher keys are fatal in
// production and replaced with insecure defaults everywhere else.
func (c *Config) Validate() error {
	if c.Provider.Domain == "" {
		return errors.New("authzero: provider domain is required")
	}
	if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		return errors.New("authzero: provider client id and secret are required")
	}
	if err := c.validateCipherKeys(); err != nil {
		return err
	}
	c.normalizeIngress()

	if c.App.Env == "" {
		c.App.Env = "development"
	}
	c.App.Env = strings.ToLower(c.App.Env)

	// accepted audiences: primary first, then extras, defaulting to the
	// tenant userinfo endpoint
	auds := make([]string, 0, len(c.Provider.Audiences)+1)
	if c.Provider.Audience != "" {
		auds = append(auds, c.Provider.Audience)
	}
	for _, a := range c.Provider.Audiences {
		if a != "" && !containsFold(auds, a) {
			auds = append(auds, a)
		}
	}
	if len(auds) == 0 {
		auds = append(auds, c.Provider.Tenant()+"/userinfo")
	}
	c.Provider.Audiences = auds
	if c.Provider.Audience == "" {
		c.Provider.Audience = auds[0]
	}

	if c.Cache.BaseKey == "" {
		c.Cache.BaseKey = "authzero"
	}
	if c.Cache.KeyPrefix == "" {
		prefix, err := c.deriveKeyPrefix()
		if err != nil {
			return err
		}
		c.Cache.KeyPrefix = prefix
	}

	if c.Session.Expiry <= 0 {
		c.Session.Expiry = 30 * 24 * time.Hour
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = c.deriveCookieName()
	}
	if c.Users.DataExpiry <= 0 {
		c.Users.DataExpiry = 7 * 24 * time.Hour
	}
	if c.Headers.Authorization == "" {
		c.Headers.Authorization = "authorization"
	}
	if c.Headers.AuthorizationScheme == "" {
		c.Headers.AuthorizationScheme = "bearer"
	}
	if c.Headers.APIKey == "" {
		c.Headers.APIKey = "x-api-key"
	}

	allowed, err := parseAllowedKeys(c.APIKeys.AllowedKeys)
	if err != nil {
		return err
	}
	c.allowed = allowed

	for i, h := range c.APIKeys.ServiceKeyHashes {
		c.APIKeys.ServiceKeyHashes[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return nil
}

func (c *Config) validateCipherKeys() error {
	if c.APIKeys.SecretKey == "" && c.APIKeys.AccessKey == "" {
		if c.IsProduction() {
			return errors.New("authzero: api key secret and access keys must be set in production")
		}
		log.Print("authzero: using insecure development cipher keys; do not use in production")
		c.APIKeys.SecretKey = devSecretKey
		c.APIKeys.AccessKey = devAccessKey
		return nil
	}
	if len(c.APIKeys.SecretKey) != apikey.KeySize || len(c.APIKeys.AccessKey) != apikey.KeySize {
		return fmt.Errorf("authzero: api key secret and access keys must be exactly %d bytes", apikey.KeySize)
	}
	return nil
}

func (c *Config) normalizeIngress() {
	ing := strings.TrimSpace(c.App.Ingress)
	if ing == "" {
		return
	}
	ing = strings.TrimSuffix(ing, "/")
	if !strings.Contains(ing, "://") {
		if strings.HasPrefix(ing, "localhost") || strings.HasPrefix(ing, "127.0.0.1") {
			ing = "http://" + ing
		} else {
			ing = "https://" + ing
		}
	}
	c.App.Ingress = ing
}

// deriveKeyPrefix needs a stable deployment identity so token cache keys
// from different apps sharing a Redis never collide.
func (c *Config) deriveKeyPrefix() (string, error) {
	basis := c.App.Name
	if basis == "" {
		basis = c.appDomain()
	}
	if basis == "" {
		return "", errors.New("authzero: set app name or app ingress so cache key prefixes can be derived")
	}
	basis = strings.ToLower(strings.ReplaceAll(basis, " ", "-"))
	return basis + "-" + c.App.Env, nil
}

func (c *Config) deriveCookieName() string {
	name := c.App.Name
	if name == "" {
		name = c.appDomain()
	}
	if name == "" {
		name = "authzero"
	}
	name = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	return fmt.Sprintf("%s-%s-session", name, c.App.Env)
}

func (c *Config) appDomain() string {
	ing := c.App.Ingress
	if i := strings.Index(ing, "://"); i >= 0 {
		ing = ing[i+3:]
	}
	if i := strings.IndexByte(ing, '/'); i >= 0 {
		ing = ing[:i]
	}
	if i := strings.IndexByte(ing, ':'); i >= 0 {
		ing = ing[:i]
	}
	return ing
}

func parseAllowedKeys(entries []string) ([]AllowedKey, error) {
	out := make([]AllowedKey, 0, len(entries))
	for _, raw := range entries {
		parts := strings.Split(raw, ":")
		entry := AllowedKey{Key: strings.TrimSpace(parts[0]), ClientName: "api_client", Role: RoleAPIClient}
		if entry.Key == "" {
			return nil, fmt.Errorf("authzero: allowed api key entry %q has no key", raw)
		}
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			entry.ClientName = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			role, err := ParseRole(parts[2])
			if err != nil {
				return nil, fmt.Errorf("authzero: allowed api key %q: %w", raw, err)
			}
			entry.Role = role
		}
		if len(parts) > 3 {
			return nil, fmt.Errorf("authzero: allowed api key entry %q has too many fields", raw)
		}
		out = append(out, entry)
	}
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
