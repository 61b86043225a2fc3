package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserDataCachesLookup(t *testing.T) {
	store, _ := newFlowStore(t, "az.app.dev.user_data")
	ctx := context.Background()

	lookups := 0
	lookup := func(ctx context.Context, userID string) (UserRecord, error) {
		lookups++
		return UserRecord{UserID: userID, Email: "a@example.com"}, nil
	}
	f := NewUserData(store, "auth0|user-1", time.Hour, lookup)

	rec, err := f.Resource(ctx)
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if rec.UserID != "auth0|user-1" || rec.Email != "a@example.com" {
		t.Fatalf("rec = %+v", rec)
	}
	if rec.ExpiresAt == 0 {
		t.Fatal("human record should carry an expiry")
	}
	if _, err := f.Resource(ctx); err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if lookups != 1 {
		t.Fatalf("lookup ran %d times", lookups)
	}
}

func TestUserDataMachineSubjectSkipsLookup(t *testing.T) {
	store, _ := newFlowStore(t, "az")
	ctx := context.Background()

	lookup := func(ctx context.Context, userID string) (UserRecord, error) {
		t.Fatal("lookup must not run for machine clients")
		return UserRecord{}, nil
	}
	f := NewUserData(store, "abc123@clients", time.Hour, lookup)
	rec, err := f.Resource(ctx)
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if !rec.Machine || rec.ExpiresAt != 0 {
		t.Fatalf("machine record = %+v", rec)
	}
	if rec.IsExpired() {
		t.Fatal("machine records never expire")
	}
}

func TestUserDataRefreshAfterExpiry(t *testing.T) {
	store, _ := newFlowStore(t, "az")
	clock := fakeClock(t, time.Now())
	ctx := context.Background()

	lookups := 0
	lookup := func(ctx context.Context, userID string) (UserRecord, error) {
		lookups++
		return UserRecord{UserID: userID}, nil
	}
	f := NewUserData(store, "auth0|u", time.Hour, lookup)
	if _, err := f.Resource(ctx); err != nil {
		t.Fatalf("Resource: %v", err)
	}
	*clock = clock.Add(2 * time.Hour)
	if _, err := f.Resource(ctx); err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if lookups != 2 {
		t.Fatalf("stale record not refreshed: %d lookups", lookups)
	}
}

func TestUserDataLookupError(t *testing.T) {
	store, _ := newFlowStore(t, "az")
	boom := errors.New("provider down")
	f := NewUserData(store, "auth0|u", time.Hour, func(ctx context.Context, userID string) (UserRecord, error) {
		return UserRecord{}, boom
	})
	if _, err := f.Resource(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("lookup error not propagated: %v", err)
	}
}

func TestUserRecordEmailDomain(t *testing.T) {
	if d := (UserRecord{Email: "A@Example.COM"}).EmailDomain(); d != "example.com" {
		t.Fatalf("EmailDomain = %q", d)
	}
	if d := (UserRecord{}).EmailDomain(); d != "" {
		t.Fatalf("EmailDomain = %q", d)
	}
}
