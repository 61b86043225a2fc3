package authzero

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/trisongz/authzero/flows"
)

const (
	testDomain  = "tenant.test.local"
	testIssuer  = "https://" + testDomain + "/"
	testAud     = "https://api.test.local"
	testKeyID   = "test-key-1"
	testSecret  = "0123456789abcdef"
	testAccess  = "fedcba9876543210"
	testSubject = "auth0|user-1"
)

type testEnv struct {
	resolver *Resolver
	signer   *rsa.PrivateKey
	redis    *miniredis.Miniredis
	lookups  int
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.App = AppConfig{Name: "testapp", Env: "development", Ingress: "https://app.test.local"}
	cfg.Provider = ProviderConfig{
		Domain:       testDomain,
		ClientID:     "client-id-1234567890",
		ClientSecret: "client-secret",
		Audience:     testAud,
	}
	cfg.APIKeys.SecretKey = testSecret
	cfg.APIKeys.AccessKey = testAccess
	return cfg
}

// newTestEnv builds a resolver against miniredis with pinned signing keys
// and an in-memory user lookup.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvOpts(t, mutate, nil, nil)
}

func newTestEnvOpts(t *testing.T, mutate func(*Config), pre, post Hook) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	env := &testEnv{signer: key, redis: mr}
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithKeySet(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: testKeyID, Use: "sig", Algorithm: "RS256",
		}}}).
		WithUserLookup(func(ctx context.Context, userID string) (flows.UserRecord, error) {
			env.lookups++
			return flows.UserRecord{
				UserID: userID,
				Email:  "user@example.com",
				Name:   "Test User",
			}, nil
		})
	if pre != nil {
		b = b.WithPreHook(pre)
	}
	if post != nil {
		b = b.WithPostHook(post)
	}
	resolver, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	env.resolver = resolver
	return env
}

func (e *testEnv) signToken(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	mc := jwt.MapClaims{
		"sub":   testSubject,
		"iss":   testIssuer,
		"aud":   testAud,
		"scope": "openid profile read:data",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(mc)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(e.signer)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func bearerRequest(token string) *Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return NewRequest(h, nil)
}

func apiKeyRequest(key string) *Request {
	h := http.Header{}
	h.Set("X-Api-Key", key)
	return NewRequest(h, nil)
}
