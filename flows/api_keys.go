package flows

import (
	"context"

	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
)

// UserDataFactory builds a user-data flow for a subject. APIKeyData uses it
// to refresh an embedded user record in place.
type UserDataFactory func(userID string) *UserData

// APIKeyData caches the (user record, claims) pair behind one API key,
// keyed by the hash of the key's decrypted identity. The outer entry never
// expires on its own; the embedded user record's expiry is the gate.
// Records are only written by successful resolutions, never loaded.
type APIKeyData struct {
	*resource.Cached[APIKeyRecord]
	identity string
	users    UserDataFactory
}

func NewAPIKeyData(store resource.Store, identity string, users UserDataFactory) *APIKeyData {
	f := &APIKeyData{identity: identity, users: users}
	f.Cached = resource.New[APIKeyRecord](store, internal.HashKey(identity))
	return f
}

// Identity returns the decrypted identity this record is keyed by.
func (f *APIKeyData) Identity() string { return f.identity }

// Current returns the cached record, refreshing the embedded user record in
// place when it has gone stale. Both halves are rewritten together. The
// second return is false when nothing is cached.
func (f *APIKeyData) Current(ctx context.Context) (APIKeyRecord, bool, error) {
	rec, ok, err := f.Lookup(ctx)
	if err != nil || !ok {
		return APIKeyRecord{}, ok, err
	}
	if rec.User.IsExpired() && f.users != nil {
		fresh, err := f.users(rec.User.UserID).Resource(ctx)
		if err != nil {
			return APIKeyRecord{}, false, err
		}
		rec.User = fresh
		if err := f.Write(ctx, rec); err != nil {
			return APIKeyRecord{}, false, err
		}
	}
	return rec, true, nil
}

// Write persists the pair. User record and claims always land together so a
// reader never observes one half updated without the other.
func (f *APIKeyData) Write(ctx context.Context, rec APIKeyRecord) error {
	return f.Save(ctx, rec, 0)
}
