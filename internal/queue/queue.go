// Package queue implements the job queue: one entry per (platform,
// platform_id) pair under observation, leased out to operators for
// submission and reclaimed by a sweeper on timeout.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoEligibleEntry is returned by Lease when no entry is free for any of
// the requested platforms.
var ErrNoEligibleEntry = errors.New("queue: no eligible entry")

// ErrNotFound is returned when an entry lookup has no match.
var ErrNotFound = errors.New("queue: not found")

// EpochZero is the sentinel last_processed value for an entry that has
// never been served.
var EpochZero = time.Unix(0, 0).UTC()

// Entry is one (platform, platform_id) pair under observation.
type Entry struct {
	QueueID         string
	PlatformID      string
	Platform        string
	LastProcessed   time.Time
	LeaseHolder     *string
	LeaseAcquiredAt *time.Time
	References      int
	ConfirmedID     bool
}

// Store is the persistence and atomic-mutation contract the queue
// operations rely on.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// Add increments references for an existing (platform, platformID)
	// entry, or inserts a fresh one with references = 1.
	Add(ctx context.Context, platformID, platform string, confirmedID bool) error
	// Remove decrements references, deleting the entry if it would reach
	// zero.
	Remove(ctx context.Context, platformID, platform string) error
	// Lease atomically finds a free entry for one of the given platforms,
	// ordered by ascending last_processed, and assigns it to operatorID.
	Lease(ctx context.Context, operatorID string, platforms []string) (Entry, bool, error)
	// FindLeasedUnconfirmed reports whether an entry exists matching
	// (queueID, platform, platform_id=username, lease_holder=operatorID,
	// confirmed_id=false) — the rebinding precondition.
	FindLeasedUnconfirmed(ctx context.Context, queueID, platform, username, operatorID string) (bool, error)
	// ReleaseNormal clears the lease on an entry held by operatorID and
	// advances last_processed to now. Reports false if the lease was not
	// held by operatorID (already reclaimed or never acquired).
	ReleaseNormal(ctx context.Context, queueID, operatorID string, now time.Time) (bool, error)
	// ReclaimExpired clears lease_holder/lease_acquired_at on every entry
	// whose lease predates the cutoff, without touching last_processed.
	// Returns the number of entries reclaimed.
	ReclaimExpired(ctx context.Context, cutoff time.Time) (int, error)
	// UsernameHint returns the username on the most recent Meta record
	// for (platform, platformID), or platformID itself if none exists.
	UsernameHint(ctx context.Context, platform, platformID string) (string, error)
	// Get returns the entry by queue_id.
	Get(ctx context.Context, queueID string) (Entry, error)
}

// SubjectRebinder is the narrow slice of the subject registry the queue
// needs for identity rebinding: rewriting the first occurrence of a
// provisional username to a confirmed platform id across every subject
// that references it.
type SubjectRebinder interface {
	RebindProfile(ctx context.Context, platform, oldID, newID string) error
}

// Queue composes a Store with subject-rebinding support to implement the
// job-queue operations the HTTP layer and ingestion pipeline call.
type Queue struct {
	Store    Store
	Subjects SubjectRebinder
}

// Add registers a queue reference for (platform, platformID).
func (q *Queue) Add(ctx context.Context, platformID, platform string, confirmedID bool) error {
	return q.Store.Add(ctx, platformID, platform, confirmedID)
}

// Remove releases a queue reference for (platform, platformID).
func (q *Queue) Remove(ctx context.Context, platformID, platform string) error {
	return q.Store.Remove(ctx, platformID, platform)
}

// Lease atomically claims the coldest free entry among platforms for
// operatorID.
func (q *Queue) Lease(ctx context.Context, operatorID string, platforms []string) (Entry, error) {
	entry, ok, err := q.Store.Lease(ctx, operatorID, platforms)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrNoEligibleEntry
	}
	return entry, nil
}

// Process is called by the ingestion pipeline at commit time. If username
// is non-nil and an unconfirmed lease on that username is found, the
// identity-rebinding path runs: the username entry is removed, a confirmed
// entry for platformID is added (or incremented), and every subject
// profile naming the username is rewritten to platformID. Otherwise the
// normal release path runs: the lease held by operatorID is cleared and
// last_processed advances to now.
func (q *Queue) Process(ctx context.Context, queueID, platformID, platform, operatorID string, username *string) (bool, error) {
	if username != nil {
		rebinding, err := q.Store.FindLeasedUnconfirmed(ctx, queueID, platform, *username, operatorID)
		if err != nil {
			return false, err
		}
		if rebinding {
			if err := q.Store.Remove(ctx, *username, platform); err != nil {
				return false, err
			}
			if err := q.Store.Add(ctx, platformID, platform, true); err != nil {
				return false, err
			}
			if err := q.Subjects.RebindProfile(ctx, platform, *username, platformID); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return q.Store.ReleaseNormal(ctx, queueID, operatorID, time.Now().UTC())
}

// UsernameHint is a best-effort lookup of the most recent Meta username
// observed for (platform, platformID).
func (q *Queue) UsernameHint(ctx context.Context, platform, platformID string) (string, error) {
	return q.Store.UsernameHint(ctx, platform, platformID)
}

// Get returns the entry by queue_id.
func (q *Queue) Get(ctx context.Context, queueID string) (Entry, error) {
	return q.Store.Get(ctx, queueID)
}
