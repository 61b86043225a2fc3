package authzero

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/trisongz/authzero/apikey"
	"github.com/trisongz/authzero/flows"
	"github.com/trisongz/authzero/internal"
)

// resolveAPIKey dispatches on the key's shape: allow-listed keys first,
// then the api-client prefix, then the user prefix, then the service hash
// set for unprefixed keys. Anything else is rejected as deprecated without
// touching the cipher.
func (r *Resolver) resolveAPIKey(ctx context.Context, id *Identity, req *Request, creds Credentials) error {
	key := creds.APIKey

	if entry, ok := r.allowed[key]; ok {
		id.CallerType = CallerAllowed
		id.ClientName = entry.ClientName
		id.Role = entry.Role
		id.roleFixed = true
		id.APIKey = key
		id.ValidationMethod = MethodAPIKey
		return nil
	}

	switch {
	case r.cfg.APIKeys.ClientPrefix != "" && strings.HasPrefix(key, r.cfg.APIKeys.ClientPrefix):
		return r.resolveEncryptedKey(ctx, id, creds, r.cfg.APIKeys.ClientPrefix, CallerAPIClient)
	case r.cfg.APIKeys.Prefix != "" && strings.HasPrefix(key, r.cfg.APIKeys.Prefix):
		return r.resolveEncryptedKey(ctx, id, creds, r.cfg.APIKeys.Prefix, CallerUser)
	default:
		if _, ok := r.serviceHashes[internal.HashKey(key)]; ok {
			id.CallerType = CallerService
			id.Role = RoleService
			id.roleFixed = true
			id.APIKey = key
			id.ValidationMethod = MethodAPIKey
			return nil
		}
		return ErrDeprecatedAPIKey
	}
}

// resolveEncryptedKey handles both prefixed key families. The decrypted
// identity addresses the cached (user, claims) record; a record whose
// claims are gone is rebuilt from the bearer token when one is present and
// rejected as expired otherwise.
func (r *Resolver) resolveEncryptedKey(ctx context.Context, id *Identity, creds Credentials, prefix string, caller CallerType) error {
	payload := apikey.UnwrapKey(creds.APIKey, prefix, r.cfg.APIKeys.Suffix)
	identity, err := r.codec.Decrypt(payload)
	if err != nil {
		return r.wrapDetail(ErrInvalidAPIKey, err)
	}
	if identity == "" || !printable(identity) {
		// wrong cipher keys decrypt to garbage: the key belongs elsewhere
		return ErrForeignAPIKey
	}
	if caller == CallerAPIClient && !strings.Contains(identity, ":") {
		return fmt.Errorf("%w: malformed api client identity", ErrInvalidAPIKey)
	}

	flow := r.keyFlow(identity)
	rec, ok, err := flow.Current(ctx)
	if err != nil {
		return err
	}

	if !ok || rec.Claims == nil {
		if !creds.HasToken() {
			return ErrExpiredAPIKeyData
		}
		cl, err := r.verifyToken(ctx, creds.Token)
		if err != nil {
			return err
		}
		if !ok {
			user, err := r.lookupUser(ctx, cl.Subject, cl.IsMachine())
			if err != nil {
				return err
			}
			rec = flows.APIKeyRecord{User: user}
		}
		rec.Claims = cl.ForAPIKey()
		if err := flow.Write(ctx, rec); err != nil {
			return err
		}
	}

	id.CallerType = caller
	id.APIKey = creds.APIKey
	id.Claims = rec.Claims
	user := rec.User
	id.User = &user
	id.ValidationMethod = MethodAPIKey

	if caller == CallerAPIClient {
		clientID, clientIdentity, _ := strings.Cut(identity, ":")
		id.Attributes["api_client_id"] = clientID
		id.Attributes["api_client_identity"] = clientIdentity
	}
	return nil
}

func printable(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
