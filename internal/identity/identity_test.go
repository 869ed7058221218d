package identity

import (
	"context"
	"testing"
)

func TestDigestCredentialIsStableAndUppercaseHex(t *testing.T) {
	digest := DigestCredential("abc")
	if len(digest) != 64 {
		t.Fatalf("expected a 64-character digest, got %d", len(digest))
	}
	if digest != DigestCredential("abc") {
		t.Fatalf("digest must be stable across calls")
	}
	for _, c := range digest {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			t.Fatalf("expected uppercase hex digest, got %q", digest)
		}
	}
}

func TestGenerateOperatorKeyLengthAndDigest(t *testing.T) {
	key, digest, err := GenerateOperatorKey()
	if err != nil {
		t.Fatalf("generate operator key: %v", err)
	}
	if len(key) != 64 {
		t.Fatalf("expected a 64-character operator key, got %d", len(key))
	}
	if digest != DigestCredential(key) {
		t.Fatalf("digest must match DigestCredential(key)")
	}
}

func TestGenerateInviteCodeLength(t *testing.T) {
	code, _, err := GenerateInviteCode()
	if err != nil {
		t.Fatalf("generate invite code: %v", err)
	}
	if len(code) != 128 {
		t.Fatalf("expected a 128-character invite code, got %d", len(code))
	}
}

func TestMemoryOperatorsRejectsDuplicateCredentialDigest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOperators()

	if _, err := store.Create(ctx, Operator{Name: "alice", CredentialHash: "DEAD"}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if _, err := store.Create(ctx, Operator{Name: "bob", CredentialHash: "DEAD"}); err != ErrConflict {
		t.Fatalf("expected ErrConflict for a duplicate digest, got %v", err)
	}
}

func TestMemoryOperatorsFindByCredentialDigest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOperators()

	created, err := store.Create(ctx, Operator{Name: "alice", CredentialHash: "BEEF"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := store.FindByCredentialDigest(ctx, "BEEF")
	if err != nil {
		t.Fatalf("find by digest: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected to find the operator just created")
	}
	if _, err := store.FindByCredentialDigest(ctx, "NOPE"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for an unknown digest, got %v", err)
	}
}

func TestMemoryReferralsMarkUsedIsSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReferrals()

	r, err := store.Create(ctx, Referral{IssuerID: "op-1", CodeHash: "FEED"})
	if err != nil {
		t.Fatalf("create referral: %v", err)
	}
	if err := store.MarkUsed(ctx, r.ID, "op-2"); err != nil {
		t.Fatalf("first mark used: %v", err)
	}
	if err := store.MarkUsed(ctx, r.ID, "op-3"); err != ErrConflict {
		t.Fatalf("expected ErrConflict on a second consumption, got %v", err)
	}
}
