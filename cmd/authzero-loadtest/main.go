// Command authzero-loadtest measures credential resolution throughput
// against a live Redis (or an embedded miniredis when none is given).
//
// It seeds N users by resolving a signed bearer token for each, which mints
// their API keys and sessions, then drives two phases of concurrent
// resolution: by API key and by session cookie.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	mrand "math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	authzero "github.com/trisongz/authzero"
	"github.com/trisongz/authzero/flows"
)

const (
	loadDomain = "load.tenant.local"
	loadAud    = "https://api.load.local"
	loadKeyID  = "load-key-1"
)

type seededUser struct {
	apiKey string
	cookie string
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (key + session)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	signer, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsa keygen: %v\n", err)
		os.Exit(1)
	}

	cfg := authzero.DefaultConfig()
	cfg.App = authzero.AppConfig{Name: "loadtest", Env: "development", Ingress: "localhost"}
	cfg.Provider = authzero.ProviderConfig{
		Domain:       loadDomain,
		ClientID:     "load-client-id",
		ClientSecret: "load-client-secret",
		Audience:     loadAud,
	}

	resolver, err := authzero.New().
		WithConfig(cfg).
		WithRedis(client).
		WithKeySet(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &signer.PublicKey, KeyID: loadKeyID, Use: "sig", Algorithm: "RS256",
		}}}).
		WithUserLookup(func(ctx context.Context, userID string) (flows.UserRecord, error) {
			return flows.UserRecord{UserID: userID, Email: userID + "@load.local"}, nil
		}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolver build: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	seeded := make([]seededUser, *users)
	for i := range seeded {
		token := signToken(signer, fmt.Sprintf("auth0|load-user-%d", i))
		id, err := resolver.Resolve(ctx, bearerRequest(token))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed resolve failed: %v\n", err)
			os.Exit(1)
		}
		cookie := id.SessionCookie(false)
		if cookie == nil {
			fmt.Fprintln(os.Stderr, "seed resolve produced no session")
			os.Exit(1)
		}
		seeded[i] = seededUser{apiKey: id.APIKey, cookie: cookie.Value}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	cookieName := resolver.Config().Session.CookieName
	keyStats := runPhase(ctx, resolver, *ops, *concurrency, func(r *mrand.Rand) *authzero.Request {
		return apiKeyRequest(seeded[r.Intn(len(seeded))].apiKey)
	})
	sessionStats := runPhase(ctx, resolver, *ops, *concurrency, func(r *mrand.Rand) *authzero.Request {
		return authzero.NewRequest(nil, map[string]string{
			cookieName: seeded[r.Intn(len(seeded))].cookie,
		})
	})

	fmt.Println("---- results ----")
	printStats("api-key", keyStats)
	printStats("session", sessionStats)
}

func runPhase(ctx context.Context, resolver *authzero.Resolver, ops, concurrency int, pick func(*mrand.Rand) *authzero.Request) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				req := pick(r)
				t0 := time.Now()
				_, err := resolver.Resolve(ctx, req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func signToken(signer *rsa.PrivateKey, subject string) string {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"iss": "https://" + loadDomain + "/",
		"aud": loadAud,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = loadKeyID
	signed, err := tok.SignedString(signer)
	if err != nil {
		panic(err)
	}
	return signed
}

func bearerRequest(token string) *authzero.Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return authzero.NewRequest(h, nil)
}

func apiKeyRequest(key string) *authzero.Request {
	h := http.Header{}
	h.Set("X-Api-Key", key)
	return authzero.NewRequest(h, nil)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50,
		s.p95,
		s.p99,
	)
}
