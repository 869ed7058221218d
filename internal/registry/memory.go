package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubjects is an in-memory SubjectStore implementation, safe for
// concurrent use.
type MemorySubjects struct {
	mu       sync.RWMutex
	subjects map[string]Subject
}

var _ SubjectStore = (*MemorySubjects)(nil)

// NewMemorySubjects creates an empty store.
func NewMemorySubjects() *MemorySubjects {
	return &MemorySubjects{subjects: make(map[string]Subject)}
}

func (s *MemorySubjects) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemorySubjects) Create(ctx context.Context, subject Subject) (Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subjects {
		if existing.Owner == subject.Owner && existing.Name == subject.Name {
			return Subject{}, ErrConflict
		}
	}
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	subject.Profiles = cloneProfiles(subject.Profiles)
	s.subjects[subject.ID] = subject
	return subject, nil
}

func (s *MemorySubjects) Update(ctx context.Context, subject Subject) (Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subjects[subject.ID]
	if !ok || existing.Owner != subject.Owner {
		return Subject{}, ErrNotFound
	}
	for id, other := range s.subjects {
		if id != subject.ID && other.Owner == subject.Owner && other.Name == subject.Name {
			return Subject{}, ErrConflict
		}
	}
	subject.Profiles = cloneProfiles(subject.Profiles)
	s.subjects[subject.ID] = subject
	return subject, nil
}

func (s *MemorySubjects) Delete(ctx context.Context, owner, id string) (Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[id]
	if !ok || subject.Owner != owner {
		return Subject{}, ErrNotFound
	}
	delete(s.subjects, id)
	return subject, nil
}

func (s *MemorySubjects) Get(ctx context.Context, owner, id string) (Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[id]
	if !ok || subject.Owner != owner {
		return Subject{}, ErrNotFound
	}
	return subject, nil
}

func (s *MemorySubjects) List(ctx context.Context, owner string) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Subject
	for _, subject := range s.subjects {
		if subject.Owner == owner {
			result = append(result, subject)
		}
	}
	return result, nil
}

func (s *MemorySubjects) ListByIDs(ctx context.Context, ids []string) ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Subject
	for _, id := range ids {
		if subject, ok := s.subjects[id]; ok {
			result = append(result, subject)
		}
	}
	return result, nil
}

func (s *MemorySubjects) RebindProfile(ctx context.Context, platform, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, subject := range s.subjects {
		ids := subject.Profiles[platform]
		for i, pid := range ids {
			if pid == oldID {
				ids[i] = newID
				subject.UpdatedAt = time.Now().UTC()
				s.subjects[id] = subject
				break
			}
		}
	}
	return nil
}

func cloneProfiles(profiles map[string][]string) map[string][]string {
	cloned := make(map[string][]string, len(profiles))
	for platform, ids := range profiles {
		copied := make([]string, len(ids))
		copy(copied, ids)
		cloned[platform] = copied
	}
	return cloned
}

// MemoryGroups is an in-memory GroupStore implementation, safe for
// concurrent use.
type MemoryGroups struct {
	mu     sync.RWMutex
	groups map[string]Group
}

var _ GroupStore = (*MemoryGroups)(nil)

// NewMemoryGroups creates an empty store.
func NewMemoryGroups() *MemoryGroups {
	return &MemoryGroups{groups: make(map[string]Group)}
}

func (s *MemoryGroups) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryGroups) Create(ctx context.Context, group Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Owner == group.Owner && existing.Name == group.Name {
			return Group{}, ErrConflict
		}
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	s.groups[group.ID] = group
	return group, nil
}

func (s *MemoryGroups) Update(ctx context.Context, group Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.groups[group.ID]
	if !ok || existing.Owner != group.Owner {
		return Group{}, ErrNotFound
	}
	for id, other := range s.groups {
		if id != group.ID && other.Owner == group.Owner && other.Name == group.Name {
			return Group{}, ErrConflict
		}
	}
	s.groups[group.ID] = group
	return group, nil
}

func (s *MemoryGroups) Delete(ctx context.Context, owner, id string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok || group.Owner != owner {
		return Group{}, ErrNotFound
	}
	delete(s.groups, id)
	return group, nil
}

func (s *MemoryGroups) Get(ctx context.Context, owner, id string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	if !ok || group.Owner != owner {
		return Group{}, ErrNotFound
	}
	return group, nil
}

func (s *MemoryGroups) List(ctx context.Context, owner string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Group
	for _, group := range s.groups {
		if group.Owner == owner {
			result = append(result, group)
		}
	}
	return result, nil
}

func (s *MemoryGroups) RemoveSubjectEverywhere(ctx context.Context, owner, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, group := range s.groups {
		if group.Owner != owner {
			continue
		}
		filtered := make([]string, 0, len(group.Subjects))
		changed := false
		for _, sid := range group.Subjects {
			if sid == subjectID {
				changed = true
				continue
			}
			filtered = append(filtered, sid)
		}
		if changed {
			group.Subjects = filtered
			group.UpdatedAt = time.Now().UTC()
			s.groups[id] = group
		}
	}
	return nil
}
