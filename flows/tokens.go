package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
)

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

// TokenConfig carries the client-credentials exchange parameters.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string

	// KeyPrefix namespaces the cache key per deployment. The short client id
	// and normalized audience are appended.
	KeyPrefix string
	// CacheKey overrides the derived cache key entirely when set.
	CacheKey string

	HTTPClient *http.Client
}

// ClientCredentials obtains and caches one access token per audience. The
// cached token carries a store TTL of expires_in minus the safety margin,
// and the expiry gate re-checks on every read, so a stale token is never
// served.
type ClientCredentials struct {
	*resource.Cached[AccessToken]
	cfg TokenConfig
}

func NewClientCredentials(store resource.Store, cfg TokenConfig) *ClientCredentials {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTPClient
	}
	key := cfg.CacheKey
	if key == "" {
		key = tokenCacheKey(cfg.KeyPrefix, cfg.ClientID, cfg.Audience)
	}
	f := &ClientCredentials{cfg: cfg}
	f.Cached = resource.New[AccessToken](store, key).
		WithLoader(f.load).
		WithTTL(tokenTTL).
		WithExpiry(AccessToken.IsExpired)
	return f
}

// Token returns the current access token string, exchanging when stale.
func (f *ClientCredentials) Token(ctx context.Context) (string, error) {
	tok, err := f.Resource(ctx)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// AuthHeader returns the Authorization header value for the current token.
func (f *ClientCredentials) AuthHeader(ctx context.Context) (string, error) {
	tok, err := f.Resource(ctx)
	if err != nil {
		return "", err
	}
	return tok.AuthHeader(), nil
}

func (f *ClientCredentials) load(ctx context.Context) (AccessToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {f.cfg.ClientID},
		"client_secret": {f.cfg.ClientSecret},
		"audience":      {f.cfg.Audience},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return AccessToken{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AccessToken{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return AccessToken{}, fmt.Errorf("flows: token endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var tok AccessToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return AccessToken{}, fmt.Errorf("flows: decoding token response: %w", err)
	}
	if tok.Token == "" {
		return AccessToken{}, fmt.Errorf("flows: token endpoint returned no access_token")
	}
	tok.IssuedAt = timeNow().Unix()
	return tok, nil
}

func tokenTTL(t AccessToken) time.Duration {
	ttl := time.Duration(t.ExpiresIn)*time.Second - TokenSafetyMargin
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

func tokenCacheKey(prefix, clientID, audience string) string {
	short := clientID
	if len(short) > 10 {
		short = short[len(short)-10:]
	}
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if short != "" {
		parts = append(parts, short)
	}
	if audience != "" {
		parts = append(parts, internal.NormalizeAudience(audience))
	}
	return strings.Join(parts, ".")
}

// NewAPIClientCredentials builds the delegated token flow used when calling
// another API on behalf of an api-client identity. Its cache key carries
// the endpoint, client identity, and environment so deployments never share
// tokens across environments.
func NewAPIClientCredentials(store resource.Store, cfg TokenConfig, endpoint, clientIdentity, clientEnv string) *ClientCredentials {
	parts := []string{internal.NormalizeAudience(endpoint)}
	if clientIdentity != "" {
		parts = append(parts, clientIdentity)
	}
	if clientEnv != "" {
		parts = append(parts, strings.ToLower(clientEnv))
	}
	if cfg.Audience != "" {
		parts = append(parts, internal.NormalizeAudience(cfg.Audience))
	}
	cfg.CacheKey = strings.Join(parts, ".")
	return NewClientCredentials(store, cfg)
}
