package flows

import (
	"context"
	"testing"
	"time"

	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
)

func newSessionStores(t *testing.T) (*resource.RedisStore, *resource.RedisStore) {
	t.Helper()
	store, _ := newFlowStore(t, "az.app.dev.user_session")
	return store, store.Child("mapping")
}

func TestSessionStartAndRestore(t *testing.T) {
	store, mapping := newSessionStores(t)
	ctx := context.Background()
	opts := SessionOptions{Expiry: 30 * 24 * time.Hour}

	f := NewSessionFlow(store, mapping, "auth0|user-1", opts)
	if f.CacheKey() != internal.HashKey("auth0|user-1") {
		t.Fatalf("session key not hashed: %q", f.CacheKey())
	}

	s, err := f.Start(ctx, "xai-deadbeef")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.UserID != "auth0|user-1" || s.APIKey != "xai-deadbeef" {
		t.Fatalf("session = %+v", s)
	}

	// restoring by cookie value recovers the same session and user id
	restored := RestoreSessionFlow(ctx, store, mapping, f.CacheKey(), opts)
	if restored.UserID() != "auth0|user-1" {
		t.Fatalf("mapping lost: %q", restored.UserID())
	}
	got, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got == nil || got.APIKey != s.APIKey || got.CreatedAt != s.CreatedAt {
		t.Fatalf("restored = %+v want %+v", got, s)
	}

	// restore is idempotent
	again, err := restored.Restore(ctx)
	if err != nil || again == nil {
		t.Fatalf("second Restore: %+v %v", again, err)
	}
	if *again != *got {
		t.Fatalf("restore not idempotent: %+v vs %+v", again, got)
	}
}

func TestSessionRawKeys(t *testing.T) {
	store, mapping := newSessionStores(t)
	f := NewSessionFlow(store, mapping, "auth0|user-1", SessionOptions{Expiry: time.Hour, RawKeys: true})
	if f.CacheKey() != "auth0|user-1" {
		t.Fatalf("raw key mode broken: %q", f.CacheKey())
	}
}

func TestSessionExpiryReadsAsAbsent(t *testing.T) {
	store, mapping := newSessionStores(t)
	clock := fakeClock(t, time.Now())
	ctx := context.Background()

	f := NewSessionFlow(store, mapping, "auth0|u", SessionOptions{Expiry: time.Hour})
	if _, err := f.Start(ctx, "key"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	*clock = clock.Add(2 * time.Hour)
	s, err := f.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s != nil {
		t.Fatalf("expired session restored: %+v", s)
	}
}

func TestSessionStartExtendsExisting(t *testing.T) {
	store, mapping := newSessionStores(t)
	clock := fakeClock(t, time.Now())
	ctx := context.Background()

	f := NewSessionFlow(store, mapping, "auth0|u", SessionOptions{Expiry: time.Hour})
	first, err := f.Start(ctx, "key-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	*clock = clock.Add(30 * time.Minute)
	second, err := f.Start(ctx, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Fatal("extension must not recreate the session")
	}
	if second.ExpiresAt <= first.ExpiresAt {
		t.Fatal("expiry not extended")
	}
	if second.APIKey != "key-1" {
		t.Fatalf("empty api key overwrote the stored one: %+v", second)
	}
}

func TestSessionDeleteKeepsBag(t *testing.T) {
	store, mapping := newSessionStores(t)
	ctx := context.Background()

	f := NewSessionFlow(store, mapping, "auth0|u", SessionOptions{Expiry: time.Hour})
	if _, err := f.Start(ctx, "key"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.SaveData(ctx, map[string]any{"theme": "dark"}, 0); err != nil {
		t.Fatalf("SaveData: %v", err)
	}

	if err := f.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s, _ := f.Restore(ctx); s != nil {
		t.Fatal("session survived Delete")
	}
	if _, ok, _ := mapping.Get(ctx, f.CacheKey()); ok {
		t.Fatal("mapping survived Delete")
	}
	if data, _ := f.LoadData(ctx); len(data) != 1 {
		t.Fatal("bag must survive plain Delete")
	}
}

func TestSessionDeleteWithData(t *testing.T) {
	store, mapping := newSessionStores(t)
	ctx := context.Background()

	f := NewSessionFlow(store, mapping, "auth0|u", SessionOptions{Expiry: time.Hour})
	if _, err := f.Start(ctx, "key"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.SaveData(ctx, map[string]any{"theme": "dark"}, 0); err != nil {
		t.Fatalf("SaveData: %v", err)
	}
	if err := f.DeleteWithData(ctx); err != nil {
		t.Fatalf("DeleteWithData: %v", err)
	}
	if s, _ := f.Restore(ctx); s != nil {
		t.Fatal("session survived DeleteWithData")
	}
	if data, _ := f.LoadData(ctx); len(data) != 0 {
		t.Fatal("bag survived DeleteWithData")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	store, mapping := newSessionStores(t)
	factory := func(identity string) Flow {
		return NewSessionFlow(store, mapping, identity, SessionOptions{Expiry: time.Hour})
	}
	if err := r.Register(FlowUserSession, factory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(FlowUserSession, factory); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := r.Register("", factory); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Fatal("nil factory accepted")
	}

	fl, err := r.Build(FlowUserSession, "auth0|u")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := fl.(*SessionFlow); !ok {
		t.Fatalf("Build returned %T", fl)
	}
	if _, err := r.Build("missing", "x"); err == nil {
		t.Fatal("unknown flow accepted")
	}
	names := r.Names()
	if len(names) != 1 || names[0] != FlowUserSession {
		t.Fatalf("Names = %v", names)
	}
}
