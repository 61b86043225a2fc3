// Package middleware adapts credential resolution to net/http. [Guard]
// resolves each request through authzero.Resolver, enforces a minimum role,
// refreshes the session cookie, and injects the identity into the request
// context; [RequireScopes] layers scope checks on top.
//
// This package translates HTTP semantics into resolver calls. It does not
// implement authentication logic itself.
package middleware
