// Package authzero resolves inbound request credentials against an
// Auth0-style identity provider: reversible encrypted API keys, RS256
// bearer tokens, and Redis-backed browser sessions, unified into a single
// per-request Identity.
//
// A [Resolver] is assembled once through [Builder.Build] and is safe for
// concurrent use. Each call to [Resolver.Resolve] runs the full pipeline:
// session restore, credential extraction, API-key or bearer validation
// (API key first, bearer as fallback), role resolution, persistence, and
// hooks.
//
// # Architecture boundaries
//
// authzero is the public surface. The cache primitive lives in resource,
// the credential flows in flows, token verification in claims, and the key
// cipher in apikey. Sub-packages never import authzero.
//
// # Caching contract
//
// Every durable value (tokens, user records, API key records, sessions)
// is a lazily loaded cached resource in a namespaced Redis keyspace.
// Concurrent misses may each load; the last writer wins. An access token
// is never served within its safety margin of expiry.
package authzero
