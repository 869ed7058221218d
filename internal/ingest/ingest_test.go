package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
	"github.com/berserksystems/instrumentality/internal/recordstore"
)

type fakeRebinder struct{}

func (fakeRebinder) RebindProfile(ctx context.Context, platform, oldID, newID string) error {
	return nil
}

func noopWithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testConfig() recordmodel.ConfigView {
	return recordmodel.ConfigView{
		ContentTypes:  map[string][]string{"PLATFORM_1": {"story", "post"}},
		PresenceTypes: map[string][]string{"PLATFORM_1": {"online"}},
	}
}

func contentRecord(id, contentType string) *recordmodel.Content {
	return &recordmodel.Content{
		Common: recordmodel.Common{
			ID:          id,
			Platform:    "PLATFORM_1",
			RetrievedAt: time.Now().UTC(),
		},
		ContentType: contentType,
		ContentID:   "c1",
	}
}

func metaRecord(id, username string) *recordmodel.Meta {
	return &recordmodel.Meta{
		Common: recordmodel.Common{
			ID:          id,
			Platform:    "PLATFORM_1",
			RetrievedAt: time.Now().UTC(),
		},
		Username: username,
	}
}

func presenceRecord(id, presenceType string) *recordmodel.Presence {
	return &recordmodel.Presence{
		Common: recordmodel.Common{
			ID:          id,
			Platform:    "PLATFORM_1",
			RetrievedAt: time.Now().UTC(),
		},
		PresenceType: presenceType,
	}
}

// S2: /add without a queue_id persists records directly.
func TestSubmitWithoutQueueIDPersistsRecords(t *testing.T) {
	records := recordstore.NewMemory()
	p := &Pipeline{
		Records: records,
		Queue:   &queue.Queue{Store: queue.NewMemoryStore(), Subjects: fakeRebinder{}},
		Config:  testConfig(),
		WithTx:  noopWithTx,
	}

	batch := recordmodel.Batch{Data: []recordmodel.Record{contentRecord("TEST_USER_1", "story")}}
	n, err := p.Submit(context.Background(), "operator-1", batch)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 persisted record, got %d", n)
	}
	if len(records.All()) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(records.All()))
	}
}

// S3: a queue_id naming a lease not held by the submitter is rejected.
func TestSubmitWithInvalidQueueIDIsRejected(t *testing.T) {
	p := &Pipeline{
		Records: recordstore.NewMemory(),
		Queue:   &queue.Queue{Store: queue.NewMemoryStore(), Subjects: fakeRebinder{}},
		Config:  testConfig(),
		WithTx:  noopWithTx,
	}

	invalid := "INVALID_QUEUE_ID"
	batch := recordmodel.Batch{
		QueueID: &invalid,
		Data:    []recordmodel.Record{contentRecord("TEST_USER_1", "story")},
	}
	_, err := p.Submit(context.Background(), "operator-1", batch)
	if !errors.Is(err, ErrInvalidLease) {
		t.Fatalf("expected ErrInvalidLease, got %v", err)
	}
}

// An empty batch is rejected before any transaction begins.
func TestSubmitWithEmptyBatchIsRejected(t *testing.T) {
	p := &Pipeline{
		Records: recordstore.NewMemory(),
		Queue:   &queue.Queue{Store: queue.NewMemoryStore(), Subjects: fakeRebinder{}},
		Config:  testConfig(),
		WithTx:  noopWithTx,
	}

	_, err := p.Submit(context.Background(), "operator-1", recordmodel.Batch{})
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

// S4: a Meta record naming a confirmed platform ID rebinds the queue entry
// leased under the provisional username. Per spec §4.1, every non-Meta
// record that names the new platform id rather than the leased username is
// dropped by verify_for_queue — only the Meta record survives, so Submit
// persists exactly 1 record, not the full batch size.
func TestSubmitRebindsUsernameToConfirmedID(t *testing.T) {
	store := queue.NewMemoryStore()
	ctx := context.Background()

	if err := store.Add(ctx, "TEST_USER_1", "PLATFORM_1", false); err != nil {
		t.Fatalf("seed add: %v", err)
	}
	entry, ok, err := store.Lease(ctx, "operator-1", []string{"PLATFORM_1"})
	if err != nil {
		t.Fatalf("seed lease: %v", err)
	}
	if !ok {
		t.Fatalf("expected an eligible entry to lease")
	}
	leased := entry.QueueID

	q := &queue.Queue{Store: store, Subjects: fakeRebinder{}}
	records := recordstore.NewMemory()
	p := &Pipeline{
		Records: records,
		Queue:   q,
		Config:  testConfig(),
		WithTx:  noopWithTx,
	}

	batch := recordmodel.Batch{
		QueueID: &leased,
		Data: []recordmodel.Record{
			metaRecord("123456789", "TEST_USER_1"),
			contentRecord("123456789", "story"),
			presenceRecord("123456789", "online"),
		},
	}
	n, err := p.Submit(ctx, "operator-1", batch)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the meta record to survive verify_for_queue, got %d persisted", n)
	}
	stored := records.All()
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(stored))
	}
	if _, ok := stored[0].(*recordmodel.Meta); !ok {
		t.Fatalf("expected the surviving record to be the meta record, got %T", stored[0])
	}

	rebound, err := q.Lease(ctx, "operator-2", []string{"PLATFORM_1"})
	if err != nil {
		t.Fatalf("lease after rebind: %v", err)
	}
	if rebound.PlatformID != "123456789" {
		t.Fatalf("expected rebound entry platform_id 123456789, got %s", rebound.PlatformID)
	}
	if !rebound.ConfirmedID {
		t.Fatalf("expected rebound entry to be confirmed")
	}
}
