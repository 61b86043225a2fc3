package claims

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://tenant.test.local/"

type signer struct {
	key *rsa.PrivateKey
	kid string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return &signer{key: key, kid: "test-key-1"}
}

func (s *signer) keySet() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     s.kid,
		Use:       "sig",
		Algorithm: "RS256",
	}}}
}

func (s *signer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func newTestVerifier(t *testing.T, s *signer, audiences ...string) *Verifier {
	t.Helper()
	if len(audiences) == 0 {
		audiences = []string{"https://api.test.local"}
	}
	v, err := NewVerifier(VerifierConfig{
		JWKSURL:   "https://tenant.test.local/.well-known/jwks.json",
		Issuer:    testIssuer,
		Audiences: audiences,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.SetKeySet(s.keySet()); err != nil {
		t.Fatalf("SetKeySet: %v", err)
	}
	return v
}

func baseClaims(aud string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":   "auth0|user-1",
		"iss":   testIssuer,
		"aud":   aud,
		"scope": "openid profile read:data",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s)
	token := s.sign(t, baseClaims("https://api.test.local"))

	c, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Subject != "auth0|user-1" {
		t.Fatalf("Subject = %q", c.Subject)
	}
	if !c.HasScope("read:data") || c.HasScope("write:data") {
		t.Fatalf("scope parsing broken: %q", c.Scope)
	}
	if c.IsMachine() {
		t.Fatal("human subject reported as machine")
	}
	if c.ExpiresAt == 0 {
		t.Fatal("expiry not captured")
	}
}

func TestVerifySecondAudience(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s, "https://primary.test.local", "https://secondary.test.local")
	token := s.sign(t, baseClaims("https://secondary.test.local"))

	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("token for second audience should verify: %v", err)
	}
}

func TestVerifyWrongAudience(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s)
	token := s.sign(t, baseClaims("https://other.test.local"))

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected audience failure")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s)
	mc := baseClaims("https://api.test.local")
	mc["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	mc["exp"] = time.Now().Add(-time.Hour).Unix()
	token := s.sign(t, mc)

	_, err := v.Verify(context.Background(), token)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s)
	mc := baseClaims("https://api.test.local")
	mc["iss"] = "https://evil.test.local/"
	token := s.sign(t, mc)

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("expected issuer failure")
	}
}

func TestVerifyForeignKey(t *testing.T) {
	s := newSigner(t)
	other := newSigner(t)
	v := newTestVerifier(t, s)
	token := other.sign(t, baseClaims("https://api.test.local"))

	if _, err := v.Verify(context.Background(), token); err == nil {
		t.Fatal("token signed by a foreign key should not verify")
	}
}

func TestVerifyMachineSubjectAndRoles(t *testing.T) {
	s := newSigner(t)
	v := newTestVerifier(t, s)
	mc := baseClaims("https://api.test.local")
	mc["sub"] = "abc123xyz@clients"
	mc["https://test.local/roles"] = []any{"ADMIN", "SERVICE"}
	token := s.sign(t, mc)

	c, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !c.IsMachine() {
		t.Fatal("machine subject not detected")
	}
	if len(c.Roles) != 2 || c.Roles[0] != "ADMIN" {
		t.Fatalf("Roles = %v", c.Roles)
	}
}

func TestRefreshFetchesRemoteKeySet(t *testing.T) {
	s := newSigner(t)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		set := s.keySet()
		raw, _ := set.Keys[0].MarshalJSON()
		_, _ = w.Write([]byte(`{"keys":[` + string(raw) + `]}`))
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{
		JWKSURL:   srv.URL,
		Issuer:    testIssuer,
		Audiences: []string{"https://api.test.local"},
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	// lazy fetch on first verify, cached afterwards
	token := s.sign(t, baseClaims("https://api.test.local"))
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify #%d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single jwks fetch, got %d", hits.Load())
	}

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("explicit Refresh should re-fetch, got %d hits", hits.Load())
	}
}

func TestForAPIKeyDropsTimestamps(t *testing.T) {
	c := &Claims{Subject: "auth0|u", IssuedAt: 100, ExpiresAt: 200}
	ak := c.ForAPIKey()
	if ak.IssuedAt != 0 || ak.ExpiresAt != 0 {
		t.Fatalf("timestamps survived: %+v", ak)
	}
	if ak.IsExpired(time.Now()) {
		t.Fatal("api key claims must never expire")
	}
	if c.ExpiresAt != 200 {
		t.Fatal("original claims mutated")
	}
}
