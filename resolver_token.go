package authzero

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trisongz/authzero/claims"
	"github.com/trisongz/authzero/flows"
)

// resolveToken validates the bearer token and fills the identity from its
// claims. Machine clients may additionally name a sub-identity through the
// api-client headers, which mints them a client key on the spot.
func (r *Resolver) resolveToken(ctx context.Context, id *Identity, req *Request, creds Credentials) error {
	if !creds.HasToken() {
		return ErrNoCredential
	}
	cl, err := r.verifyToken(ctx, creds.Token)
	if err != nil {
		return err
	}
	id.Claims = cl
	id.ValidationMethod = MethodToken

	user, err := r.lookupUser(ctx, cl.Subject, cl.IsMachine())
	if err != nil {
		return err
	}
	id.User = &user

	if cl.IsMachine() {
		if clientIdentity := req.Header.Get(r.cfg.Headers.APIClientID); clientIdentity != "" {
			clientEnv := req.Header.Get(r.cfg.Headers.APIClientEnv)
			return r.configureAPIClient(ctx, id, cl, clientIdentity, clientEnv)
		}
		id.CallerType = CallerService
		return nil
	}
	id.CallerType = CallerUser
	return nil
}

// configureAPIClient registers the machine client's named sub-identity:
// mints a client-prefixed key for "{subject}:{identity}" and persists the
// record so subsequent requests validate by key alone. The environment
// header scopes the identity's delegated token flows, see APIClientTokens.
func (r *Resolver) configureAPIClient(ctx context.Context, id *Identity, cl *claims.Claims, clientIdentity, clientEnv string) error {
	logical := cl.Subject + ":" + clientIdentity
	key, err := r.mintKey(logical, r.cfg.APIKeys.ClientPrefix)
	if err != nil {
		return err
	}
	if err := r.writeKeyRecord(ctx, logical, *id.User, cl); err != nil {
		return err
	}
	id.CallerType = CallerAPIClient
	id.APIKey = key
	id.Attributes["api_client_id"] = cl.Subject
	id.Attributes["api_client_identity"] = clientIdentity
	if clientEnv != "" {
		id.Attributes["api_client_env"] = strings.ToLower(clientEnv)
	}
	return nil
}

func (r *Resolver) verifyToken(ctx context.Context, token string) (*claims.Claims, error) {
	cl, err := r.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, r.wrapDetail(ErrExpiredToken, err)
		}
		return nil, r.wrapDetail(ErrInvalidToken, err)
	}
	return cl, nil
}

// lookupUser reads the cached user record for a subject. Machine subjects
// synthesize locally and never fail; a failed lookup for a human subject is
// logged and degrades to an empty record rather than failing the request.
func (r *Resolver) lookupUser(ctx context.Context, subject string, machine bool) (flows.UserRecord, error) {
	rec, err := r.userFlow(subject).Resource(ctx)
	if err != nil {
		if !machine {
			log.Printf("authzero: user record lookup failed for %s: %v", subject, err)
		}
		return flows.UserRecord{UserID: subject, Machine: machine}, nil
	}
	return rec, nil
}
