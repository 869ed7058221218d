package recordmodel

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBatchDecodeClassifiesRecords(t *testing.T) {
	raw := []byte(`{
		"queue_id": "q-1",
		"data": [
			{"id":"TEST_USER_1","platform":"PLATFORM_1","retrieved_at":"2026-01-01T00:00:00Z","presence_type":"online"},
			{"id":"TEST_USER_1","platform":"PLATFORM_1","retrieved_at":"2026-01-01T00:00:00Z","content_type":"story","content_id":"c-1"},
			{"id":"TEST_USER_1","platform":"PLATFORM_1","retrieved_at":"2026-01-01T00:00:00Z","username":"TEST_USER_1","private":false,"banned":false}
		]
	}`)

	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if batch.QueueID == nil || *batch.QueueID != "q-1" {
		t.Fatalf("expected queue_id q-1, got %v", batch.QueueID)
	}
	if len(batch.Data) != 3 {
		t.Fatalf("expected 3 records, got %d", len(batch.Data))
	}
	if batch.Data[0].Kind() != KindPresence {
		t.Fatalf("expected first record to be presence")
	}
	if batch.Data[1].Kind() != KindContent {
		t.Fatalf("expected second record to be content")
	}
	if batch.Data[2].Kind() != KindMeta {
		t.Fatalf("expected third record to be meta")
	}
}

func TestTagStampsAttribution(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := Batch{Data: []Record{
		&Presence{Common: Common{ID: "U", Platform: "PLATFORM_1"}, PresenceType: "online"},
	}}

	tagged := Tag(batch, "operator-1", now)
	if tagged.Data[0].Base().AddedBy != "operator-1" {
		t.Fatalf("expected added_by to be stamped")
	}
	if !tagged.Data[0].Base().AddedAt.Equal(now) {
		t.Fatalf("expected added_at to be stamped")
	}
	// Original batch must be untouched (pure transformation).
	if batch.Data[0].Base().AddedBy != "" {
		t.Fatalf("tag must not mutate its input")
	}
}

func TestVerifyForConfigDropsUnconfiguredRecords(t *testing.T) {
	cfg := ConfigView{
		ContentTypes:  map[string][]string{"PLATFORM_1": {"story"}},
		PresenceTypes: map[string][]string{"PLATFORM_1": {"online"}},
	}
	batch := Batch{Data: []Record{
		&Presence{Common: Common{ID: "U", Platform: "PLATFORM_1"}, PresenceType: "online"},
		&Presence{Common: Common{ID: "U", Platform: "PLATFORM_1"}, PresenceType: "offline"},
		&Content{Common: Common{ID: "U", Platform: "PLATFORM_2"}, ContentType: "story"},
	}}

	out := VerifyForConfig(batch, cfg)
	if len(out.Data) != 1 {
		t.Fatalf("expected 1 surviving record, got %d", len(out.Data))
	}
	if out.Data[0].(*Presence).PresenceType != "online" {
		t.Fatalf("expected the allowed presence record to survive")
	}
}

func TestVerifyForConfigIsIdempotent(t *testing.T) {
	cfg := ConfigView{PresenceTypes: map[string][]string{"PLATFORM_1": {"online"}}}
	batch := Batch{Data: []Record{
		&Presence{Common: Common{ID: "U", Platform: "PLATFORM_1"}, PresenceType: "online"},
		&Presence{Common: Common{ID: "U", Platform: "PLATFORM_1"}, PresenceType: "offline"},
	}}

	once := VerifyForConfig(batch, cfg)
	twice := VerifyForConfig(once, cfg)
	if len(once.Data) != len(twice.Data) {
		t.Fatalf("verify_for_config must be idempotent: %d != %d", len(once.Data), len(twice.Data))
	}
}

func TestVerifyForQueueAllowsRebindingMetaOnly(t *testing.T) {
	lease := QueueLeaseView{Platform: "PLATFORM_1", PlatformID: "TEST_USER_1", ConfirmedID: false}
	batch := Batch{Data: []Record{
		&Meta{Common: Common{ID: "123456789", Platform: "PLATFORM_1"}, Username: "TEST_USER_1"},
		&Content{Common: Common{ID: "123456789", Platform: "PLATFORM_1"}, ContentType: "story"},
		&Presence{Common: Common{ID: "123456789", Platform: "PLATFORM_1"}, PresenceType: "online"},
	}}

	out := VerifyForQueue(batch, lease)
	// All three records differ in id from the lease; only the Meta record
	// is allowed, because the lease is unconfirmed. The Content/Presence records for
	// the not-yet-confirmed new id are rejected: they name a platform_id
	// the lease was not taken out against.
	if len(out.Data) != 1 {
		t.Fatalf("expected only the meta record to survive rebinding verification, got %d", len(out.Data))
	}
	if out.Data[0].Kind() != KindMeta {
		t.Fatalf("expected surviving record to be meta")
	}
}

func TestVerifyForQueueRejectsWrongPlatform(t *testing.T) {
	lease := QueueLeaseView{Platform: "PLATFORM_1", PlatformID: "TEST_USER_1", ConfirmedID: true}
	batch := Batch{Data: []Record{
		&Presence{Common: Common{ID: "TEST_USER_1", Platform: "PLATFORM_2"}, PresenceType: "online"},
	}}

	out := VerifyForQueue(batch, lease)
	if len(out.Data) != 0 {
		t.Fatalf("expected cross-platform record to be rejected")
	}
}

// TestSummarizeReportsFirstMetaUsername covers the identity-rebinding
// shape where a batch pairs an unconfirmed, username-keyed record with a
// Meta record carrying the confirmed platform id: Summarize must take
// platform_id, platform, and added_by from the Meta record, not Data[0],
// or a rebind silently turns into a no-op (the id never changes).
func TestSummarizeReportsFirstMetaUsername(t *testing.T) {
	batch := Batch{Data: []Record{
		&Content{Common: Common{ID: "alice", Platform: "PLATFORM_1", AddedBy: "op-1"}, ContentType: "story"},
		&Meta{Common: Common{ID: "realid", Platform: "PLATFORM_1", AddedBy: "op-1"}, Username: "alice"},
	}}
	info, ok := Summarize(batch)
	if !ok {
		t.Fatalf("expected summarize to succeed on non-empty batch")
	}
	if info.Username == nil || *info.Username != "alice" {
		t.Fatalf("expected username from the meta record, got %v", info.Username)
	}
	if info.PlatformID != "realid" {
		t.Fatalf("expected platform_id from the meta record, got %q", info.PlatformID)
	}
	if info.AddedBy != "op-1" {
		t.Fatalf("expected added_by from the meta record")
	}
}

func TestSummarizeEmptyBatch(t *testing.T) {
	if _, ok := Summarize(Batch{}); ok {
		t.Fatalf("expected summarize to fail on an empty batch")
	}
}
