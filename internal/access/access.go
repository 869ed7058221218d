// Package access implements the credential-to-operator boundary every
// authenticated endpoint passes through: read the X-API-KEY header, digest
// it, and resolve the owning operator, which Authenticate returns to the
// caller. Authenticate does not attach the operator to the request context;
// WithOperator does that for callers that need it.
package access

import (
	"context"
	"net/http"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
	"github.com/berserksystems/instrumentality/internal/identity"
)

// CredentialHeader is the header carrying the plaintext operator key.
const CredentialHeader = "X-API-KEY"

// OperatorLookup resolves a credential digest to its operator.
type OperatorLookup interface {
	FindByCredentialDigest(ctx context.Context, digest string) (identity.Operator, error)
}

type contextKey struct{}

// WithOperator attaches op to ctx.
func WithOperator(ctx context.Context, op identity.Operator) context.Context {
	return context.WithValue(ctx, contextKey{}, op)
}

// OperatorFromContext returns the operator attached to ctx by WithOperator, if any.
func OperatorFromContext(ctx context.Context) (identity.Operator, bool) {
	op, ok := ctx.Value(contextKey{}).(identity.Operator)
	return op, ok
}

// Boundary resolves the X-API-KEY header against an operator store.
type Boundary struct {
	Operators OperatorLookup
}

// Authenticate reads the credential header from r, digests it, and
// resolves the operator. Returns coordinatorerr.Unauthenticated when the
// header is missing or names no known operator.
func (b *Boundary) Authenticate(r *http.Request) (identity.Operator, error) {
	key := r.Header.Get(CredentialHeader)
	if key == "" {
		return identity.Operator{}, coordinatorerr.Unauthenticated("missing X-API-KEY header")
	}
	digest := identity.DigestCredential(key)
	op, err := b.Operators.FindByCredentialDigest(r.Context(), digest)
	if err != nil {
		return identity.Operator{}, coordinatorerr.Unauthenticated("invalid API key")
	}
	return op, nil
}

// RequireAdmin returns coordinatorerr.Forbidden unless op is an
// administrator. Only administrators may invoke the shutdown operation.
func RequireAdmin(op identity.Operator) error {
	if !op.Admin {
		return coordinatorerr.Forbidden("administrator capability required")
	}
	return nil
}
