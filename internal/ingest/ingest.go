// Package ingest implements the /add transactional acceptance path: verify
// the claimed lease, filter records against configuration and the lease,
// persist the survivors, and release or rebind the lease, all as one
// atomic action.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// ErrEmptyBatch is returned when the submitted batch has no records, or
// when every record is dropped by verification.
var ErrEmptyBatch = errors.New("ingest: empty batch")

// ErrInvalidLease is returned when a submitted queue_id does not name a
// lease held by the submitting operator.
var ErrInvalidLease = errors.New("ingest: invalid lease")

// ErrProcessFailed is returned when queue.process reports failure (the
// lease was reclaimed or otherwise not held by the caller at commit time).
var ErrProcessFailed = errors.New("ingest: queue process failed")

// RecordStore persists verified records.
type RecordStore interface {
	EnsureSchema(ctx context.Context) error
	AppendAll(ctx context.Context, records []recordmodel.Record) error
}

// LeaseOwner is the subset of the job queue the pipeline drives.
type LeaseOwner interface {
	Get(ctx context.Context, queueID string) (queue.Entry, error)
	Process(ctx context.Context, queueID, platformID, platform, operatorID string, username *string) (bool, error)
}

// Pipeline composes the record store, the job queue, and configuration
// into the /add operation.
type Pipeline struct {
	Records RecordStore
	Queue   LeaseOwner
	Config  recordmodel.ConfigView
	// WithTx runs fn within a single database transaction.
	WithTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

// Submit runs the full ingestion procedure for a batch submitted by
// operatorID, returning the persisted record count on success.
func (p *Pipeline) Submit(ctx context.Context, operatorID string, batch recordmodel.Batch) (int, error) {
	if len(batch.Data) == 0 {
		return 0, ErrEmptyBatch
	}

	if batch.QueueID != nil {
		entry, err := p.Queue.Get(ctx, *batch.QueueID)
		if err != nil {
			return 0, ErrInvalidLease
		}
		if entry.LeaseHolder == nil || *entry.LeaseHolder != operatorID {
			return 0, ErrInvalidLease
		}
	}

	now := time.Now().UTC()
	var persisted int
	err := p.WithTx(ctx, func(ctx context.Context) error {
		tagged := recordmodel.Tag(batch, operatorID, now)
		verified := recordmodel.VerifyForConfig(tagged, p.Config)
		if len(verified.Data) == 0 {
			return ErrEmptyBatch
		}

		if batch.QueueID != nil {
			entry, err := p.Queue.Get(ctx, *batch.QueueID)
			if err != nil {
				return ErrInvalidLease
			}
			if entry.LeaseHolder == nil || *entry.LeaseHolder != operatorID {
				return ErrInvalidLease
			}

			lease := recordmodel.QueueLeaseView{
				Platform:    entry.Platform,
				PlatformID:  entry.PlatformID,
				ConfirmedID: entry.ConfirmedID,
			}
			verified = recordmodel.VerifyForQueue(verified, lease)
			if len(verified.Data) == 0 {
				return ErrEmptyBatch
			}

			info, ok := recordmodel.Summarize(verified)
			if !ok {
				return ErrEmptyBatch
			}
			ok, err = p.Queue.Process(ctx, *batch.QueueID, info.PlatformID, info.Platform, operatorID, info.Username)
			if err != nil {
				return err
			}
			if !ok {
				return ErrProcessFailed
			}
		}

		if err := p.Records.AppendAll(ctx, verified.Data); err != nil {
			return err
		}
		persisted = len(verified.Data)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return persisted, nil
}
