package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/berserksystems/instrumentality/internal/identity"
)

type fakeOperators struct {
	byDigest map[string]identity.Operator
}

func (f *fakeOperators) FindByCredentialDigest(ctx context.Context, digest string) (identity.Operator, error) {
	op, ok := f.byDigest[digest]
	if !ok {
		return identity.Operator{}, identity.ErrNotFound
	}
	return op, nil
}

func TestAuthenticateMissingHeaderIsUnauthenticated(t *testing.T) {
	b := &Boundary{Operators: &fakeOperators{byDigest: map[string]identity.Operator{}}}
	r := httptest.NewRequest(http.MethodGet, "/queue", nil)

	if _, err := b.Authenticate(r); err == nil {
		t.Fatalf("expected an error for a missing credential header")
	}
}

func TestAuthenticateResolvesOperatorByDigest(t *testing.T) {
	key := "plaintext-key"
	digest := identity.DigestCredential(key)
	op := identity.Operator{ID: "op-1", Name: "alice"}

	b := &Boundary{Operators: &fakeOperators{byDigest: map[string]identity.Operator{digest: op}}}
	r := httptest.NewRequest(http.MethodGet, "/queue", nil)
	r.Header.Set(CredentialHeader, key)

	got, err := b.Authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != op.ID {
		t.Fatalf("expected operator %s, got %s", op.ID, got.ID)
	}
}

func TestRequireAdminRejectsNonAdmin(t *testing.T) {
	if err := RequireAdmin(identity.Operator{Admin: false}); err == nil {
		t.Fatalf("expected non-admin operator to be rejected")
	}
	if err := RequireAdmin(identity.Operator{Admin: true}); err != nil {
		t.Fatalf("expected admin operator to pass: %v", err)
	}
}
