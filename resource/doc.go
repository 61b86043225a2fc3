// Package resource provides the caching primitive the credential flows are
// built on: a lazily loaded, TTL-validated value persisted in a namespaced
// key/value store, plus a companion free-form attribute bag per value.
package resource
