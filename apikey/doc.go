// Package apikey implements the reversible API key format: an identifier
// encrypted with AES-128-CBC, hex encoded, wrapped in a cleartext routing
// prefix and optional suffix. Keys minted by one deployment are decryptable
// by any deployment sharing the same secret and access keys.
package apikey
