// Package claims verifies provider-issued bearer tokens and models their
// decoded payload. Verification is RS256 against the tenant's JWKS, with
// every configured audience accepted.
package claims
