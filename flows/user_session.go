package flows

import (
	"context"
	"encoding/json"

	"github.com/trisongz/authzero/internal"
	"github.com/trisongz/authzero/resource"
	"time"
)

// SessionOptions controls session lifetime and key handling.
type SessionOptions struct {
	// Expiry is the sliding session lifetime.
	Expiry time.Duration
	// RawKeys disables hashing of the user id into the cache key. Hashing is
	// the default so cookie values never expose raw subjects.
	RawKeys bool
}

// SessionFlow manages one user's browser session: the session object, a
// reverse mapping from cache key back to user id in a child namespace, and
// the session's attribute bag.
//
// Sessions are only created by a successful authentication; the flow never
// loads. An expired or undecodable session reads as absent and its stale
// bytes are dropped.
type SessionFlow struct {
	*resource.Cached[Session]
	mapping resource.Store
	userID  string
	opts    SessionOptions
}

// NewSessionFlow binds a session flow to a known user id.
func NewSessionFlow(store, mapping resource.Store, userID string, opts SessionOptions) *SessionFlow {
	key := userID
	if !opts.RawKeys {
		key = internal.HashKey(userID)
	}
	f := &SessionFlow{mapping: mapping, userID: userID, opts: opts}
	f.Cached = resource.New[Session](store, key).
		WithExpiry(Session.IsExpired).
		WithTTL(Session.TTL)
	return f
}

// RestoreSessionFlow addresses an existing session directly by its cookie
// value. The reverse mapping recovers the user id; a missing mapping leaves
// it empty, which restores fine but prevents re-keying.
func RestoreSessionFlow(ctx context.Context, store, mapping resource.Store, cookieValue string, opts SessionOptions) *SessionFlow {
	f := &SessionFlow{mapping: mapping, opts: opts}
	f.Cached = resource.New[Session](store, cookieValue).
		WithExpiry(Session.IsExpired).
		WithTTL(Session.TTL)
	if raw, ok, err := mapping.Get(ctx, cookieValue); err == nil && ok {
		var uid string
		if json.Unmarshal(raw, &uid) == nil {
			f.userID = uid
		}
	}
	return f
}

// UserID returns the bound user id, which may be empty for a restored flow
// whose mapping was lost.
func (f *SessionFlow) UserID() string { return f.userID }

// Restore returns the current session or nil. Expired entries are deleted
// on read rather than refreshed.
func (f *SessionFlow) Restore(ctx context.Context) (*Session, error) {
	s, ok, err := f.Lookup(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = f.Cached.Delete(ctx)
		return nil, nil
	}
	return &s, nil
}

// Start creates the session, or extends an existing one's expiry, and
// persists the reverse mapping under the same lifetime.
func (f *SessionFlow) Start(ctx context.Context, apiKey string) (*Session, error) {
	now := timeNow()
	s, err := f.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &Session{UserID: f.userID, APIKey: apiKey, CreatedAt: now.Unix()}
	} else if apiKey != "" {
		s.APIKey = apiKey
	}
	s.ExpiresAt = now.Add(f.opts.Expiry).Unix()
	if err := f.Save(ctx, *s, 0); err != nil {
		return nil, err
	}
	if err := f.saveMapping(ctx, s.TTL()); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *SessionFlow) saveMapping(ctx context.Context, ttl time.Duration) error {
	if f.userID == "" {
		return nil
	}
	raw, err := json.Marshal(f.userID)
	if err != nil {
		return err
	}
	return f.mapping.Set(ctx, f.CacheKey(), raw, ttl)
}

// Delete removes the session and its reverse mapping but keeps the
// attribute bag.
func (f *SessionFlow) Delete(ctx context.Context) error {
	if err := f.Cached.Delete(ctx); err != nil {
		return err
	}
	return f.mapping.Delete(ctx, f.CacheKey())
}

// DeleteWithData removes the session, its reverse mapping, and the
// attribute bag so nothing outlives the logout.
func (f *SessionFlow) DeleteWithData(ctx context.Context) error {
	if err := f.Delete(ctx); err != nil {
		return err
	}
	return f.DeleteData(ctx)
}
