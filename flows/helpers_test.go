package flows

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trisongz/authzero/resource"
)

func newFlowStore(t *testing.T, base string) (*resource.RedisStore, *miniredis.Miniredis) {
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
	return resource.NewRedisStore(rdb, base), mr
}

// fakeClock pins timeNow for a test and restores it afterwards.
func fakeClock(t *testing.T, start time.Time) *time.Time {
	t.Helper()
	current := start
	timeNow = func() time.Time { return current }
	t.Cleanup(func() { timeNow = time.Now })
	return &current
}
