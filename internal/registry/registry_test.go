package registry

import (
	"context"
	"testing"

	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// fakeQueue records add/remove calls for assertions without pulling in the
// queue package's lease/sweep machinery.
type fakeQueue struct {
	added   [][2]string
	removed [][2]string
}

func (q *fakeQueue) Add(ctx context.Context, platformID, platform string, confirmedID bool) error {
	q.added = append(q.added, [2]string{platform, platformID})
	return nil
}

func (q *fakeQueue) Remove(ctx context.Context, platformID, platform string) error {
	q.removed = append(q.removed, [2]string{platform, platformID})
	return nil
}

func noopWithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestRegistry() (*Registry, *fakeQueue) {
	q := &fakeQueue{}
	reg := &Registry{
		Subjects: NewMemorySubjects(),
		Groups:   NewMemoryGroups(),
		Queue:    q,
		Config: recordmodel.ConfigView{
			PresenceTypes: map[string][]string{"PLATFORM_1": {"online"}},
		},
		WithTx: noopWithTx,
	}
	return reg, q
}

func TestCreateSubjectRegistersQueueReferences(t *testing.T) {
	ctx := context.Background()
	reg, q := newTestRegistry()

	subject, err := reg.CreateSubject(ctx, "owner-1", "alice", "", map[string][]string{
		"PLATFORM_1": {"u1", "u2"},
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if subject.ID == "" {
		t.Fatalf("expected a minted subject id")
	}
	if len(q.added) != 2 {
		t.Fatalf("expected 2 queue.add calls, got %d", len(q.added))
	}
}

func TestCreateSubjectRejectsUnknownPlatform(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()

	_, err := reg.CreateSubject(ctx, "owner-1", "alice", "", map[string][]string{
		"PLATFORM_UNKNOWN": {"u1"},
	})
	if err != ErrUnknownPlatform {
		t.Fatalf("expected ErrUnknownPlatform, got %v", err)
	}
}

func TestCreateSubjectRejectsDuplicateOwnerName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()

	if _, err := reg.CreateSubject(ctx, "owner-1", "alice", "", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := reg.CreateSubject(ctx, "owner-1", "alice", "", nil); err != ErrConflict {
		t.Fatalf("expected ErrConflict for a duplicate name, got %v", err)
	}
}

func TestUpdateSubjectDiffsProfileReferences(t *testing.T) {
	ctx := context.Background()
	reg, q := newTestRegistry()

	subject, err := reg.CreateSubject(ctx, "owner-1", "alice", "", map[string][]string{
		"PLATFORM_1": {"u1"},
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	q.added, q.removed = nil, nil

	_, err = reg.UpdateSubject(ctx, "owner-1", subject.ID, "alice", "", map[string][]string{
		"PLATFORM_1": {"u2"},
	})
	if err != nil {
		t.Fatalf("update subject: %v", err)
	}
	if len(q.added) != 1 || q.added[0][1] != "u2" {
		t.Fatalf("expected queue.add for the newly added pair, got %v", q.added)
	}
	if len(q.removed) != 1 || q.removed[0][1] != "u1" {
		t.Fatalf("expected queue.remove for the dropped pair, got %v", q.removed)
	}
}

func TestDeleteSubjectReleasesReferencesAndPullsFromGroups(t *testing.T) {
	ctx := context.Background()
	reg, q := newTestRegistry()

	subject, err := reg.CreateSubject(ctx, "owner-1", "alice", "", map[string][]string{
		"PLATFORM_1": {"u1"},
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	group, err := reg.CreateGroup(ctx, "owner-1", "group-1", "", []string{subject.ID})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	q.added, q.removed = nil, nil

	if err := reg.DeleteSubject(ctx, "owner-1", subject.ID); err != nil {
		t.Fatalf("delete subject: %v", err)
	}
	if len(q.removed) != 1 {
		t.Fatalf("expected 1 queue.remove call, got %d", len(q.removed))
	}

	refreshed, err := reg.Groups.Get(ctx, "owner-1", group.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(refreshed.Subjects) != 0 {
		t.Fatalf("expected the deleted subject to be pulled from the group, got %v", refreshed.Subjects)
	}
}

func TestCreateGroupRejectsUnknownSubject(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()

	_, err := reg.CreateGroup(ctx, "owner-1", "group-1", "", []string{"does-not-exist"})
	if err != ErrUnknownSubject {
		t.Fatalf("expected ErrUnknownSubject, got %v", err)
	}
}
