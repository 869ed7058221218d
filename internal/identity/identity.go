// Package identity holds operators and referrals, and the credential
// digesting the access boundary relies on to authenticate a request.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup by digest or ID has no match.
var ErrNotFound = errors.New("identity: not found")

// ErrConflict is returned when a uniqueness invariant would be violated.
var ErrConflict = errors.New("identity: conflict")

// Operator is a registered actor authorized to submit data and manage
// subjects. Only its credential digest is ever stored.
type Operator struct {
	ID             string
	Name           string
	CredentialHash string
	Admin          bool
	CreatedAt      time.Time
}

// Referral is a single-use invite binding a future registration to its
// issuer.
type Referral struct {
	ID        string
	IssuerID  string
	CodeHash  string
	Used      bool
	UsedBy    *string
	CreatedAt time.Time
}

// DigestCredential renders the uppercase hex SHA-256 digest of a plaintext
// credential, matching the wire contract bit-exactly.
func DigestCredential(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return fmt.Sprintf("%X", sum[:])
}

// GenerateOperatorKey returns a fresh 32-byte operator key rendered as 64
// lowercase hex characters, and its digest.
func GenerateOperatorKey() (key, digest string, err error) {
	return generateCredential(32)
}

// GenerateInviteCode returns a fresh 64-byte invite code rendered as 128
// lowercase hex characters, and its digest.
func GenerateInviteCode() (code, digest string, err error) {
	return generateCredential(64)
}

func generateCredential(n int) (plaintext, digest string, err error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate credential: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	digest = DigestCredential(plaintext)
	return plaintext, digest, nil
}

// OperatorStore persists operators.
type OperatorStore interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, op Operator) (Operator, error)
	FindByCredentialDigest(ctx context.Context, digest string) (Operator, error)
	FindByID(ctx context.Context, id string) (Operator, error)
	UpdateCredentialDigest(ctx context.Context, id, digest string) error
}

// ReferralStore persists referrals.
type ReferralStore interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, r Referral) (Referral, error)
	FindByCodeDigest(ctx context.Context, digest string) (Referral, error)
	MarkUsed(ctx context.Context, id, usedByOperatorID string) error
}
