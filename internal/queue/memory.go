package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation, safe for concurrent
// use. Lease holds the store's single mutex for its entire find-and-update,
// giving it the same test-and-set guarantee the Postgres implementation
// gets from FOR UPDATE SKIP LOCKED within one statement.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	// usernameHints is a test seam: production username hints come from
	// the records table (see internal/recordstore), which this package does
	// not depend on.
	usernameHints map[[2]string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:       make(map[string]Entry),
		usernameHints: make(map[[2]string]string),
	}
}

// SetUsernameHint seeds the best-effort username lookup for tests.
func (s *MemoryStore) SetUsernameHint(platform, platformID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usernameHints[[2]string{platform, platformID}] = username
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) findKey(platform, platformID string) (string, bool) {
	for key, entry := range s.entries {
		if entry.Platform == platform && entry.PlatformID == platformID {
			return key, true
		}
	}
	return "", false
}

func (s *MemoryStore) Add(ctx context.Context, platformID, platform string, confirmedID bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.findKey(platform, platformID); ok {
		entry := s.entries[key]
		entry.References++
		entry.ConfirmedID = entry.ConfirmedID || confirmedID
		s.entries[key] = entry
		return nil
	}
	queueID := uuid.NewString()
	s.entries[queueID] = Entry{
		QueueID:       queueID,
		PlatformID:    platformID,
		Platform:      platform,
		LastProcessed: EpochZero,
		References:    1,
		ConfirmedID:   confirmedID,
	}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, platformID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.findKey(platform, platformID)
	if !ok {
		return nil
	}
	entry := s.entries[key]
	if entry.References <= 1 {
		delete(s.entries, key)
		return nil
	}
	entry.References--
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Lease(ctx context.Context, operatorID string, platforms []string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		wanted[p] = struct{}{}
	}

	var candidates []Entry
	for _, entry := range s.entries {
		if entry.LeaseHolder != nil {
			continue
		}
		if _, ok := wanted[entry.Platform]; !ok {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return Entry{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].LastProcessed.Equal(candidates[j].LastProcessed) {
			return candidates[i].QueueID < candidates[j].QueueID
		}
		return candidates[i].LastProcessed.Before(candidates[j].LastProcessed)
	})

	chosen := candidates[0]
	holder := operatorID
	now := time.Now().UTC()
	chosen.LeaseHolder = &holder
	chosen.LeaseAcquiredAt = &now
	s.entries[chosen.QueueID] = chosen
	return chosen, true, nil
}

func (s *MemoryStore) FindLeasedUnconfirmed(ctx context.Context, queueID, platform, username, operatorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[queueID]
	if !ok {
		return false, nil
	}
	if entry.Platform != platform || entry.PlatformID != username {
		return false, nil
	}
	if entry.LeaseHolder == nil || *entry.LeaseHolder != operatorID {
		return false, nil
	}
	return !entry.ConfirmedID, nil
}

func (s *MemoryStore) ReleaseNormal(ctx context.Context, queueID, operatorID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[queueID]
	if !ok {
		return false, nil
	}
	if entry.LeaseHolder == nil || *entry.LeaseHolder != operatorID {
		return false, nil
	}
	entry.LeaseHolder = nil
	entry.LeaseAcquiredAt = nil
	entry.LastProcessed = now
	s.entries[queueID] = entry
	return true, nil
}

func (s *MemoryStore) ReclaimExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, entry := range s.entries {
		if entry.LeaseAcquiredAt != nil && entry.LeaseAcquiredAt.Before(cutoff) {
			entry.LeaseHolder = nil
			entry.LeaseAcquiredAt = nil
			s.entries[key] = entry
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UsernameHint(ctx context.Context, platform, platformID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hint, ok := s.usernameHints[[2]string{platform, platformID}]; ok {
		return hint, nil
	}
	return platformID, nil
}

func (s *MemoryStore) Get(ctx context.Context, queueID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[queueID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}
