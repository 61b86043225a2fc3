package authzero

import (
	"errors"
	"net/http"
)

// Sentinel errors for the failure modes of credential resolution. Wrapped
// variants carry detail; callers match with errors.Is.
var (
	// ErrNoCredential means neither an API key nor a bearer token was
	// presented.
	ErrNoCredential = errors.New("not authorized: no credential found")

	// ErrInvalidToken covers malformed tokens, bad signatures, wrong issuer,
	// and wrong audience.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is a structurally valid token past its expiry.
	ErrExpiredToken = errors.New("expired token")

	// ErrInvalidAPIKey covers keys that fail decryption or decrypt to a
	// malformed identity.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrDeprecatedAPIKey is a key whose format is not recognized. Rejected
	// without attempting decryption.
	ErrDeprecatedAPIKey = errors.New("invalid api key prefix: the key format is deprecated, log in again to regenerate it")

	// ErrForeignAPIKey is a structurally valid key minted by a different
	// application or environment.
	ErrForeignAPIKey = errors.New("invalid api key: the key does not belong to this application or environment")

	// ErrExpiredAPIKeyData means the key decrypted fine but its cached
	// record is gone and no bearer token was available to rebuild it.
	ErrExpiredAPIKeyData = errors.New("expired api key data: re-authenticate to refresh the key")

	ErrInsufficientPermissions = errors.New("insufficient permissions")

	// ErrNotFound mirrors a provider 404 so callers can special-case it.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest mirrors a provider 400 unchanged.
	ErrBadRequest = errors.New("bad request")

	// ErrInvalidOperation is any other unexpected provider response.
	ErrInvalidOperation = errors.New("invalid operation")
)

// StatusFor maps a resolution error onto the HTTP status a guard should
// answer with. Unknown errors map to 500.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInsufficientPermissions):
		return http.StatusForbidden
	case errors.Is(err, ErrNoCredential),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrInvalidAPIKey),
		errors.Is(err, ErrDeprecatedAPIKey),
		errors.Is(err, ErrForeignAPIKey),
		errors.Is(err, ErrExpiredAPIKeyData):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
