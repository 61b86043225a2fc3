package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const jwksFetchAttempts = 3

var (
	ErrNoKeys      = errors.New("claims: key set contains no usable signing keys")
	ErrKeyNotFound = errors.New("claims: no signing key matches the token kid")
)

// VerifierConfig configures token verification against one provider tenant.
type VerifierConfig struct {
	// JWKSURL is the provider's published key set endpoint.
	JWKSURL string
	// Issuer must match the token's iss claim exactly.
	Issuer string
	// Audiences are accepted in order; a token valid for any one of them
	// verifies.
	Audiences []string
	// RolesClaim optionally names a custom claim carrying role names. Claims
	// whose key ends in "/roles" are honored regardless.
	RolesClaim string
	// RefreshInterval re-fetches the key set when a kid misses and the cached
	// set is older than this. Zero caches the first fetch for the process
	// lifetime; rotation then requires an explicit Refresh.
	RefreshInterval time.Duration

	HTTPClient *http.Client
}

// Verifier validates RS256 bearer tokens against the provider's rotating
// key set. The key set is fetched lazily on first use.
type Verifier struct {
	cfg VerifierConfig

	mu      sync.RWMutex
	keys    map[string]any
	fetched time.Time
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("claims: jwks url is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("claims: issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("claims: at least one audience is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Verifier{cfg: cfg}, nil
}

// SetKeySet installs a key set directly, bypassing the JWKS fetch. Used by
// tests and by deployments that pin keys in configuration.
func (v *Verifier) SetKeySet(set jose.JSONWebKeySet) error {
	keys, err := indexKeySet(set)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.keys = keys
	v.fetched = time.Now()
	v.mu.Unlock()
	return nil
}

// Refresh fetches the key set from JWKSURL, retrying transient failures.
func (v *Verifier) Refresh(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= jwksFetchAttempts; attempt++ {
		set, err := v.fetchKeySet(ctx)
		if err == nil {
			return v.SetKeySet(set)
		}
		lastErr = err
		log.Printf("authzero: jwks fetch attempt %d/%d failed: %v", attempt, jwksFetchAttempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return lastErr
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return set, err
	}
	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return set, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return set, err
	}
	if resp.StatusCode != http.StatusOK {
		return set, fmt.Errorf("claims: jwks endpoint returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return set, fmt.Errorf("claims: decoding jwks: %w", err)
	}
	return set, nil
}

func indexKeySet(set jose.JSONWebKeySet) (map[string]any, error) {
	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if !k.Valid() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		keys[k.KeyID] = k.Key
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

func (v *Verifier) keyFor(ctx context.Context, kid string) (any, error) {
	v.mu.RLock()
	keys := v.keys
	fetched := v.fetched
	v.mu.RUnlock()

	if keys == nil {
		if err := v.Refresh(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		keys = v.keys
		v.mu.RUnlock()
	}
	if key, ok := lookupKey(keys, kid); ok {
		return key, nil
	}
	// unknown kid may mean the provider rotated keys underneath us
	if v.cfg.RefreshInterval > 0 && time.Since(fetched) >= v.cfg.RefreshInterval {
		if err := v.Refresh(ctx); err != nil {
			return nil, err
		}
		v.mu.RLock()
		keys = v.keys
		v.mu.RUnlock()
		if key, ok := lookupKey(keys, kid); ok {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}

func lookupKey(keys map[string]any, kid string) (any, bool) {
	if key, ok := keys[kid]; ok {
		return key, true
	}
	if kid == "" && len(keys) == 1 {
		for _, key := range keys {
			return key, true
		}
	}
	return nil, false
}

// Verify checks the token's signature, issuer, expiry, and audience, trying
// each accepted audience in order. The first audience that validates wins;
// when none do, the last verification error is returned.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keyFor(ctx, kid)
	}
	var lastErr error
	for _, aud := range v.cfg.Audiences {
		parsed, err := jwt.ParseWithClaims(token, jwt.MapClaims{}, keyfunc,
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(v.cfg.Issuer),
			jwt.WithAudience(aud),
		)
		if err != nil {
			lastErr = err
			continue
		}
		return v.buildClaims(parsed.Claims.(jwt.MapClaims))
	}
	if lastErr == nil {
		lastErr = jwt.ErrTokenInvalidAudience
	}
	return nil, lastErr
}

func (v *Verifier) buildClaims(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{}
	c.Subject, _ = mc.GetSubject()
	c.Issuer, _ = mc.GetIssuer()
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = aud
	}
	if scope, ok := mc["scope"].(string); ok {
		c.Scope = scope
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Unix()
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Unix()
	}
	c.Roles = extractRoles(mc, v.cfg.RolesClaim)
	return c, nil
}

func extractRoles(mc jwt.MapClaims, rolesClaim string) []string {
	for key, val := range mc {
		if key != rolesClaim && !strings.HasSuffix(key, "/roles") {
			continue
		}
		raw, ok := val.([]any)
		if !ok {
			continue
		}
		roles := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		if len(roles) > 0 {
			return roles
		}
	}
	return nil
}
