package flows

import (
	"context"
	"strings"
	"time"

	"github.com/trisongz/authzero/claims"
	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
)

// UserLookup fetches the provider's record for a subject.
type UserLookup func(ctx context.Context, userID string) (UserRecord, error)

// UserData caches the provider's view of one user, keyed by the hash of the
// subject. Machine-client subjects synthesize an empty record locally and
// never expire; human records go stale after the configured duration and
// are re-fetched through the lookup.
type UserData struct {
	*resource.Cached[UserRecord]
	userID string
	expiry time.Duration
	lookup UserLookup
}

func NewUserData(store resource.Store, userID string, expiry time.Duration, lookup UserLookup) *UserData {
	f := &UserData{userID: userID, expiry: expiry, lookup: lookup}
	f.Cached = resource.New[UserRecord](store, internal.HashKey(userID)).
		WithLoader(f.load).
		WithTTL(f.ttl).
		WithExpiry(UserRecord.IsExpired)
	return f
}

// UserID returns the subject this flow is bound to.
func (f *UserData) UserID() string { return f.userID }

func (f *UserData) load(ctx context.Context) (UserRecord, error) {
	if strings.HasSuffix(f.userID, claims.MachineClientSuffix) {
		return UserRecord{UserID: f.userID, Machine: true}, nil
	}
	if f.lookup == nil {
		return UserRecord{UserID: f.userID}, nil
	}
	rec, err := f.lookup(ctx, f.userID)
	if err != nil {
		return UserRecord{}, err
	}
	if rec.UserID == "" {
		rec.UserID = f.userID
	}
	if f.expiry > 0 {
		rec.ExpiresAt = timeNow().Add(f.expiry).Unix()
	}
	return rec, nil
}

func (f *UserData) ttl(rec UserRecord) time.Duration {
	if rec.Machine {
		return 0
	}
	return f.expiry
}
