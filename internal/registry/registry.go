// Package registry implements the subject and group CRUD operations: named,
// operator-owned collections of platform profiles (subjects) and of subject
// identifiers (groups).
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// ErrNotFound is returned when a subject or group lookup has no match for
// the given owner.
var ErrNotFound = errors.New("registry: not found")

// ErrConflict is returned when a create would violate the (owner, name)
// uniqueness invariant.
var ErrConflict = errors.New("registry: conflict")

// ErrUnknownPlatform is returned when a subject's profiles name a platform
// unknown to configuration.
var ErrUnknownPlatform = errors.New("registry: unknown platform")

// ErrUnknownSubject is returned when a group names a subject that does not
// exist at write time.
var ErrUnknownSubject = errors.New("registry: unknown subject")

// Subject is an operator-owned named bundle of profiles under observation.
type Subject struct {
	ID          string
	Owner       string
	Name        string
	Description string
	// Profiles maps platform name to an ordered sequence of platform
	// identifiers (confirmed IDs or provisional usernames).
	Profiles  map[string][]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group is an operator-owned named set of subject identifiers.
type Group struct {
	ID          string
	Owner       string
	Name        string
	Description string
	Subjects    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueRefs is the subset of the job queue the registry drives when a
// subject's profiles change. Defined here, rather than importing the queue
// package's concrete type, to keep registry free of a dependency on queue's
// lease/sweep machinery.
type QueueRefs interface {
	Add(ctx context.Context, platformID, platform string, confirmedID bool) error
	Remove(ctx context.Context, platformID, platform string) error
}

// SubjectStore persists subjects.
type SubjectStore interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, s Subject) (Subject, error)
	Update(ctx context.Context, s Subject) (Subject, error)
	Delete(ctx context.Context, owner, id string) (Subject, error)
	Get(ctx context.Context, owner, id string) (Subject, error)
	List(ctx context.Context, owner string) ([]Subject, error)
	ListByIDs(ctx context.Context, ids []string) ([]Subject, error)
	// RebindProfile rewrites the first occurrence of oldID in profiles[platform]
	// to newID, across every subject (any owner) that references it. Used by
	// the job queue's identity-rebinding path.
	RebindProfile(ctx context.Context, platform, oldID, newID string) error
}

// GroupStore persists groups.
type GroupStore interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, g Group) (Group, error)
	Update(ctx context.Context, g Group) (Group, error)
	Delete(ctx context.Context, owner, id string) (Group, error)
	Get(ctx context.Context, owner, id string) (Group, error)
	List(ctx context.Context, owner string) ([]Group, error)
	RemoveSubjectEverywhere(ctx context.Context, owner, subjectID string) error
}

// Registry composes the stores and the queue reference side effects into
// the operations the HTTP layer calls.
type Registry struct {
	Subjects SubjectStore
	Groups   GroupStore
	Queue    QueueRefs
	Config   recordmodel.ConfigView
	// WithTx runs fn within a single database transaction. Supplied by the
	// caller (cmd/coordinatord) so this package stays storage-engine
	// agnostic; tests can pass a no-op wrapper.
	WithTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

func profilePairs(profiles map[string][]string) [][2]string {
	pairs := make([][2]string, 0)
	for platform, ids := range profiles {
		for _, id := range ids {
			pairs = append(pairs, [2]string{platform, id})
		}
	}
	return pairs
}

func profileSet(profiles map[string][]string) map[[2]string]struct{} {
	set := make(map[[2]string]struct{})
	for _, pair := range profilePairs(profiles) {
		set[pair] = struct{}{}
	}
	return set
}

// CreateSubject builds a Subject owned by owner from the supplied fields,
// verifies every named platform is configured, persists it under the
// (owner, name) uniqueness constraint, and registers a queue reference for
// every (platform, id) pair in its profiles. All of this runs in one
// transaction.
func (r *Registry) CreateSubject(ctx context.Context, owner, name, description string, profiles map[string][]string) (Subject, error) {
	for platform := range profiles {
		if !r.Config.KnowsPlatform(platform) {
			return Subject{}, ErrUnknownPlatform
		}
	}

	subject := Subject{
		Owner:       owner,
		Name:        name,
		Description: description,
		Profiles:    profiles,
		CreatedAt:   time.Now().UTC(),
	}
	subject.UpdatedAt = subject.CreatedAt

	var created Subject
	err := r.WithTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = r.Subjects.Create(ctx, subject)
		if err != nil {
			return err
		}
		for _, pair := range profilePairs(profiles) {
			if err := r.Queue.Add(ctx, pair[1], pair[0], false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Subject{}, err
	}
	return created, nil
}

// UpdateSubject finds the subject by (id, owner), diffs its old and new
// profile pairs, and issues the corresponding queue.add/queue.remove calls
// before writing the new fields. All in one transaction.
func (r *Registry) UpdateSubject(ctx context.Context, owner, id, name, description string, profiles map[string][]string) (Subject, error) {
	for platform := range profiles {
		if !r.Config.KnowsPlatform(platform) {
			return Subject{}, ErrUnknownPlatform
		}
	}

	var updated Subject
	err := r.WithTx(ctx, func(ctx context.Context) error {
		existing, err := r.Subjects.Get(ctx, owner, id)
		if err != nil {
			return err
		}

		oldSet := profileSet(existing.Profiles)
		newSet := profileSet(profiles)

		for pair := range newSet {
			if _, present := oldSet[pair]; !present {
				if err := r.Queue.Add(ctx, pair[1], pair[0], false); err != nil {
					return err
				}
			}
		}
		for pair := range oldSet {
			if _, present := newSet[pair]; !present {
				if err := r.Queue.Remove(ctx, pair[1], pair[0]); err != nil {
					return err
				}
			}
		}

		existing.Name = name
		existing.Description = description
		existing.Profiles = profiles
		existing.UpdatedAt = time.Now().UTC()

		updated, err = r.Subjects.Update(ctx, existing)
		return err
	})
	if err != nil {
		return Subject{}, err
	}
	return updated, nil
}

// DeleteSubject finds and deletes the subject, releases every queue
// reference its profiles held, and removes its identifier from every group
// containing it. One transaction.
func (r *Registry) DeleteSubject(ctx context.Context, owner, id string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		deleted, err := r.Subjects.Delete(ctx, owner, id)
		if err != nil {
			return err
		}
		for _, pair := range profilePairs(deleted.Profiles) {
			if err := r.Queue.Remove(ctx, pair[1], pair[0]); err != nil {
				return err
			}
		}
		return r.Groups.RemoveSubjectEverywhere(ctx, owner, id)
	})
}

// CreateGroup builds a Group after verifying every subject identifier
// resolves to an existing subject owned by owner.
func (r *Registry) CreateGroup(ctx context.Context, owner, name, description string, subjectIDs []string) (Group, error) {
	if err := r.verifySubjectsExist(ctx, owner, subjectIDs); err != nil {
		return Group{}, err
	}
	group := Group{
		Owner:       owner,
		Name:        name,
		Description: description,
		Subjects:    subjectIDs,
		CreatedAt:   time.Now().UTC(),
	}
	group.UpdatedAt = group.CreatedAt
	return r.Groups.Create(ctx, group)
}

// UpdateGroup overwrites a group's fields after the same subject-existence
// check as CreateGroup.
func (r *Registry) UpdateGroup(ctx context.Context, owner, id, name, description string, subjectIDs []string) (Group, error) {
	if err := r.verifySubjectsExist(ctx, owner, subjectIDs); err != nil {
		return Group{}, err
	}
	existing, err := r.Groups.Get(ctx, owner, id)
	if err != nil {
		return Group{}, err
	}
	existing.Name = name
	existing.Description = description
	existing.Subjects = subjectIDs
	existing.UpdatedAt = time.Now().UTC()
	return r.Groups.Update(ctx, existing)
}

// DeleteGroup removes a group. Groups hold no queue references, so no
// transaction beyond the store's own delete is required.
func (r *Registry) DeleteGroup(ctx context.Context, owner, id string) error {
	_, err := r.Groups.Delete(ctx, owner, id)
	return err
}

func (r *Registry) verifySubjectsExist(ctx context.Context, owner string, subjectIDs []string) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	found, err := r.Subjects.ListByIDs(ctx, subjectIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]struct{}, len(found))
	for _, s := range found {
		if s.Owner != owner {
			continue
		}
		byID[s.ID] = struct{}{}
	}
	for _, id := range subjectIDs {
		if _, ok := byID[id]; !ok {
			return ErrUnknownSubject
		}
	}
	return nil
}
