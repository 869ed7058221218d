package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOperators is an in-memory OperatorStore implementation, safe for
// concurrent use. It backs unit tests and local development.
type MemoryOperators struct {
	mu        sync.RWMutex
	operators map[string]Operator
	byDigest  map[string]string
}

var _ OperatorStore = (*MemoryOperators)(nil)

// NewMemoryOperators creates an empty store.
func NewMemoryOperators() *MemoryOperators {
	return &MemoryOperators{
		operators: make(map[string]Operator),
		byDigest:  make(map[string]string),
	}
}

func (s *MemoryOperators) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryOperators) Create(ctx context.Context, op Operator) (Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDigest[op.CredentialHash]; exists {
		return Operator{}, ErrConflict
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	s.operators[op.ID] = op
	s.byDigest[op.CredentialHash] = op.ID
	return op, nil
}

func (s *MemoryOperators) FindByCredentialDigest(ctx context.Context, digest string) (Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return s.operators[id], nil
}

func (s *MemoryOperators) FindByID(ctx context.Context, id string) (Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[id]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return op, nil
}

func (s *MemoryOperators) UpdateCredentialDigest(ctx context.Context, id, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok {
		return ErrNotFound
	}
	if existing, exists := s.byDigest[digest]; exists && existing != id {
		return ErrConflict
	}
	delete(s.byDigest, op.CredentialHash)
	op.CredentialHash = digest
	s.operators[id] = op
	s.byDigest[digest] = id
	return nil
}

// MemoryReferrals is an in-memory ReferralStore implementation, safe for
// concurrent use.
type MemoryReferrals struct {
	mu        sync.RWMutex
	referrals map[string]Referral
}

var _ ReferralStore = (*MemoryReferrals)(nil)

// NewMemoryReferrals creates an empty store.
func NewMemoryReferrals() *MemoryReferrals {
	return &MemoryReferrals{referrals: make(map[string]Referral)}
}

func (s *MemoryReferrals) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryReferrals) Create(ctx context.Context, r Referral) (Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.referrals {
		if existing.CodeHash == r.CodeHash {
			return Referral{}, ErrConflict
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.referrals[r.ID] = r
	return r, nil
}

func (s *MemoryReferrals) FindByCodeDigest(ctx context.Context, digest string) (Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.referrals {
		if r.CodeHash == digest {
			return r, nil
		}
	}
	return Referral{}, ErrNotFound
}

func (s *MemoryReferrals) MarkUsed(ctx context.Context, id, usedByOperatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.referrals[id]
	if !ok {
		return ErrNotFound
	}
	if r.Used {
		return ErrConflict
	}
	r.Used = true
	r.UsedBy = &usedByOperatorID
	s.referrals[id] = r
	return nil
}
