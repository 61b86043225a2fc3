package authzero

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trisongz/authzero/flows"
	"github.com/trisongz/authzero/resource"
)

// newManagementFixture serves both the token exchange and the management API
// from one test server.
func newManagementFixture(t *testing.T) (*ManagementClient, *int) {
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

	exchanges := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if r.FormValue("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.FormValue("grant_type"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mgmt-token-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer mgmt-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v2/users/auth0|user-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"user_id": "auth0|user-1",
				"email":   "user@example.com",
				"name":    "Test User",
			})
		case "/api/v2/users/auth0|missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := resource.NewRedisStore(rdb, "az.test.client_token")
	tokens := flows.NewClientCredentials(store, flows.TokenConfig{
		TokenURL:     srv.URL + "/oauth/token",
		ClientID:     "client-id-1234567890",
		ClientSecret: "client-secret",
		Audience:     srv.URL + "/api/v2/",
		KeyPrefix:    "testapp-development",
		HTTPClient:   srv.Client(),
	})
	return NewManagementClient(srv.URL+"/api/v2/", srv.Client(), tokens), &exchanges
}

func TestManagementGetUser(t *testing.T) {
	mgmt, exchanges := newManagementFixture(t)
	ctx := context.Background()

	rec, err := mgmt.GetUser(ctx, "auth0|user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if rec.UserID != "auth0|user-1" || rec.Email != "user@example.com" {
		t.Fatalf("record = %+v", rec)
	}

	// the management token is cached across calls
	if _, err := mgmt.GetUser(ctx, "auth0|user-1"); err != nil {
		t.Fatalf("second GetUser: %v", err)
	}
	if *exchanges != 1 {
		t.Fatalf("token exchanges = %d", *exchanges)
	}
}

func TestManagementGetUserNotFound(t *testing.T) {
	mgmt, _ := newManagementFixture(t)
	_, err := mgmt.GetUser(context.Background(), "auth0|missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagementBadRequest(t *testing.T) {
	mgmt, _ := newManagementFixture(t)
	_, err := mgmt.Get(context.Background(), "users/auth0|odd")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
