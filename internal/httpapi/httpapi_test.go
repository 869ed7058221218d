package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berserksystems/instrumentality/internal/access"
	"github.com/berserksystems/instrumentality/internal/identity"
	"github.com/berserksystems/instrumentality/internal/ingest"
	"github.com/berserksystems/instrumentality/internal/logging"
	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
	"github.com/berserksystems/instrumentality/internal/recordstore"
	"github.com/berserksystems/instrumentality/internal/registry"
)

func noopWithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testConfigView() recordmodel.ConfigView {
	return recordmodel.ConfigView{
		ContentTypes:  map[string][]string{"PLATFORM_1": {"story", "post"}},
		PresenceTypes: map[string][]string{"PLATFORM_1": {"online"}},
	}
}

func newTestServer(t *testing.T) (*Server, identity.Operator) {
	t.Helper()

	operators := identity.NewMemoryOperators()
	key, digest, err := identity.GenerateOperatorKey()
	if err != nil {
		t.Fatalf("generate operator key: %v", err)
	}
	op, err := operators.Create(context.Background(), identity.Operator{
		Name:           "tester",
		CredentialHash: digest,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create operator: %v", err)
	}

	subjects := registry.NewMemorySubjects()
	groups := registry.NewMemoryGroups()
	queueStore := queue.NewMemoryStore()
	q := &queue.Queue{Store: queueStore, Subjects: subjects}

	reg := &registry.Registry{
		Subjects: subjects,
		Groups:   groups,
		Queue:    q,
		Config:   testConfigView(),
		WithTx:   noopWithTx,
	}

	pipeline := &ingest.Pipeline{
		Records: recordstore.NewMemory(),
		Queue:   q,
		Config:  testConfigView(),
		WithTx:  noopWithTx,
	}

	s := &Server{
		Access:         &access.Boundary{Operators: operators},
		Operators:      operators,
		Referrals:      identity.NewMemoryReferrals(),
		Registry:       reg,
		Queue:          q,
		Ingest:         pipeline,
		Config:         testConfigView(),
		Log:            logging.New(logging.Config{}),
		RequestTimeout: 5 * time.Second,
		WithTx:         noopWithTx,
	}
	op.CredentialHash = key // stash the plaintext key for test requests
	return s, op
}

func authedRequest(method, target, key string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set(access.CredentialHeader, key)
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v (body=%s)", err, rec.Body.String())
	}
	return body
}

// S1: create a subject, lease its only profile, then observe the second
// immediate lease attempt report no jobs available.
func TestS1CreateThenLease(t *testing.T) {
	s, op := newTestServer(t)
	key := op.CredentialHash
	router := s.NewRouter()

	created, err := s.Registry.CreateSubject(context.Background(), op.ID, "test", "", map[string][]string{
		"PLATFORM_1": {"TEST_USER_1"},
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if created.Name != "test" {
		t.Fatalf("unexpected subject name %q", created.Name)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/queue?platforms=PLATFORM_1", key))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body=%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["platform"] != "PLATFORM_1" || body["platform_id"] != "TEST_USER_1" {
		t.Fatalf("unexpected lease body: %#v", body)
	}
	if body["platform_username_hint"] != "TEST_USER_1" {
		t.Fatalf("expected username hint to default to platform_id, got %#v", body["platform_username_hint"])
	}

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, authedRequest(http.MethodGet, "/queue?platforms=PLATFORM_1", key))
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on the second immediate lease, got %d", rec2.Code)
	}
	body2 := decodeBody(t, rec2)
	if body2["response"] != "ERROR" {
		t.Fatalf("expected an ERROR envelope, got %#v", body2)
	}
	if body2["text"] != "There are no jobs available. Please try again later." {
		t.Fatalf("unexpected error text: %#v", body2["text"])
	}
}

// S3: submitting with an unknown queue_id is rejected as an invalid lease.
func TestS3AddWithBadLeaseIsRejected(t *testing.T) {
	s, op := newTestServer(t)
	router := s.NewRouter()

	payload := `{"queue_id":"INVALID_QUEUE_ID","data":[{"id":"TEST_USER_1","platform":"PLATFORM_1","content_type":"story","content_id":"c1","retrieved_at":"2026-01-01T00:00:00Z"}]}`
	r := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(payload))
	r.Header.Set(access.CredentialHeader, op.CredentialHash)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body=%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "Invalid queue ID." {
		t.Fatalf("expected text to mention Invalid queue ID., got %#v", body["text"])
	}
}

// S2: submitting without a queue_id persists directly.
func TestS2AddWithoutLeaseSucceeds(t *testing.T) {
	s, op := newTestServer(t)
	router := s.NewRouter()

	payload := `{"data":[{"id":"TEST_USER_1","platform":"PLATFORM_1","content_type":"story","content_id":"c1","retrieved_at":"2026-01-01T00:00:00Z"}]}`
	r := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(payload))
	r.Header.Set(access.CredentialHeader, op.CredentialHash)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body=%s)", rec.Code, rec.Body.String())
	}
}

func TestUnauthenticatedQueueRequestIsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue?platforms=PLATFORM_1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
