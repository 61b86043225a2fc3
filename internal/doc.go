// Package internal contains small helpers shared across the authzero
// packages: key hashing, audience normalization, and registered-domain
// extraction.
//
// # What this package must NOT do
//
//   - Export types that appear in the public authzero API.
//   - Be imported by any package outside the authzero module.
package internal
