// Package flows implements the cached credential flows: client-credentials
// access tokens, provider user records, API key records, and browser
// sessions. Each flow is a resource.Cached value with its own namespace,
// key derivation, and expiry policy.
package flows
