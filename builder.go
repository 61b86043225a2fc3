package authzero

import (
	"errors"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/redis/go-redis/v9"

	"github.com/trisongz/authzero/apikey"
	"github.com/trisongz/authzero/claims"
	"github.com/trisongz/authzero/flows"
	"github.com/trisongz/authzero/resource"
)

// Builder assembles a Resolver. Configure it during initialization and call
// Build exactly once; the resulting Resolver is immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	http   *http.Client

	userLookup flows.UserLookup
	keySet     *jose.JSONWebKeySet

	preHooks  []Hook
	postHooks []Hook

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.http = client
	return b
}

// WithUserLookup overrides the management-API user lookup, e.g. to source
// user records from a local directory.
func (b *Builder) WithUserLookup(lookup flows.UserLookup) *Builder {
	b.userLookup = lookup
	return b
}

// WithKeySet pins the token signing keys instead of fetching them from the
// provider's JWKS endpoint.
func (b *Builder) WithKeySet(set jose.JSONWebKeySet) *Builder {
	b.keySet = &set
	return b
}

// WithPreHook appends a hook that runs before credential validation.
func (b *Builder) WithPreHook(h Hook) *Builder {
	b.preHooks = append(b.preHooks, h)
	return b
}

// WithPostHook appends a hook that runs after the identity is resolved.
func (b *Builder) WithPostHook(h Hook) *Builder {
	b.postHooks = append(b.postHooks, h)
	return b
}

// Build validates the configuration, wires every flow onto its namespace,
// and returns the resolver. Fail-fast: any unusable configuration surfaces
// here, not at request time.
func (b *Builder) Build() (*Resolver, error) {
	if b.built {
		return nil, errors.New("authzero: builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("authzero: redis client required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := b.http
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	codec, err := apikey.NewCodec(cfg.APIKeys.SecretKey, cfg.APIKeys.AccessKey)
	if err != nil {
		return nil, err
	}

	verifier, err := claims.NewVerifier(claims.VerifierConfig{
		JWKSURL:         cfg.Provider.KeySetURL(),
		Issuer:          cfg.Provider.Issuer(),
		Audiences:       cfg.Provider.Audiences,
		RolesClaim:      cfg.Provider.RolesClaim,
		RefreshInterval: cfg.Provider.JWKSRefreshInterval,
		HTTPClient:      httpClient,
	})
	if err != nil {
		return nil, err
	}
	if b.keySet != nil {
		if err := verifier.SetKeySet(*b.keySet); err != nil {
			return nil, err
		}
	}

	baseKey := func(flow string) string {
		return resource.BaseKey(cfg.Cache.BaseKey, cfg.App.Name, cfg.App.Env, flow)
	}
	tokenStore := resource.NewRedisStore(b.redis, baseKey(flows.FlowClientToken))
	userStore := resource.NewRedisStore(b.redis, baseKey(flows.FlowUserData))
	keyStore := resource.NewRedisStore(b.redis, baseKey(flows.FlowAPIKey))
	sessionStore := resource.NewRedisStore(b.redis, baseKey(flows.FlowUserSession))
	mappingStore := sessionStore.Child("mapping")

	lookup := b.userLookup
	if lookup == nil {
		mgmtTokens := flows.NewClientCredentials(tokenStore, flows.TokenConfig{
			TokenURL:     cfg.Provider.OAuthTokenURL(),
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			Audience:     cfg.Provider.ManagementAPIURL(),
			KeyPrefix:    cfg.Cache.KeyPrefix,
			HTTPClient:   httpClient,
		})
		mgmt := NewManagementClient(cfg.Provider.ManagementAPIURL(), httpClient, mgmtTokens)
		lookup = mgmt.GetUser
	}

	registry := flows.NewRegistry()
	userFactory := func(userID string) *flows.UserData {
		return flows.NewUserData(userStore, userID, cfg.Users.DataExpiry, lookup)
	}
	sessionOpts := flows.SessionOptions{Expiry: cfg.Session.Expiry, RawKeys: cfg.Session.RawKeys}
	registrations := map[string]flows.Factory{
		flows.FlowUserData: func(identity string) flows.Flow {
			return userFactory(identity)
		},
		flows.FlowAPIKey: func(identity string) flows.Flow {
			return flows.NewAPIKeyData(keyStore, identity, userFactory)
		},
		flows.FlowUserSession: func(identity string) flows.Flow {
			return flows.NewSessionFlow(sessionStore, mappingStore, identity, sessionOpts)
		},
		flows.FlowClientToken: func(audience string) flows.Flow {
			return flows.NewClientCredentials(tokenStore, flows.TokenConfig{
				TokenURL:     cfg.Provider.OAuthTokenURL(),
				ClientID:     cfg.Provider.ClientID,
				ClientSecret: cfg.Provider.ClientSecret,
				Audience:     audience,
				KeyPrefix:    cfg.Cache.KeyPrefix,
				HTTPClient:   httpClient,
			})
		},
	}
	for name, factory := range registrations {
		if err := registry.Register(name, factory); err != nil {
			return nil, err
		}
	}

	allowed := make(map[string]AllowedKey, len(cfg.allowed))
	for _, entry := range cfg.allowed {
		allowed[entry.Key] = entry
	}
	serviceHashes := make(map[string]struct{}, len(cfg.APIKeys.ServiceKeyHashes))
	for _, h := range cfg.APIKeys.ServiceKeyHashes {
		serviceHashes[h] = struct{}{}
	}

	b.built = true
	return &Resolver{
		cfg:           cfg,
		codec:         codec,
		verifier:      verifier,
		registry:      registry,
		sessionStore:  sessionStore,
		mappingStore:  mappingStore,
		tokenStore:    tokenStore,
		allowed:       allowed,
		serviceHashes: serviceHashes,
		preHooks:      b.preHooks,
		postHooks:     b.postHooks,
	}, nil
}
