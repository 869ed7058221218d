package httpapi

import (
	"errors"
	"net/http"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
	"github.com/berserksystems/instrumentality/internal/ingest"
	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// handleQueueLease implements GET /queue: atomically claims the coldest
// free entry for one of the requested platforms, then augments the
// response with a best-effort username hint. Carried forward from
// original_source/src/routes/queue.rs: NONE is reported as a specific
// human-readable message rather than an empty list (S1).
func (s *Server) handleQueueLease(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	platforms := parseList(r.URL.Query().Get("platforms"))
	if len(platforms) == 0 {
		writeErr(w, coordinatorerr.Malformed("platforms query parameter is required", nil))
		return
	}

	entry, err := s.Queue.Lease(r.Context(), op.ID, platforms)
	if err != nil {
		if errors.Is(err, queue.ErrNoEligibleEntry) {
			if s.Metrics != nil {
				s.Metrics.RecordLease("none")
			}
			writeErr(w, coordinatorerr.Semantic("There are no jobs available. Please try again later."))
			return
		}
		writeErr(w, coordinatorerr.Internal("lease queue entry", err))
		return
	}
	if s.Metrics != nil {
		s.Metrics.RecordLease("granted")
	}

	hint, err := s.Queue.UsernameHint(r.Context(), entry.Platform, entry.PlatformID)
	if err != nil {
		hint = entry.PlatformID
	}

	writeOK(w, http.StatusOK, map[string]any{
		"queue_id":               entry.QueueID,
		"platform":               entry.Platform,
		"platform_id":            entry.PlatformID,
		"platform_username_hint": hint,
	})
}

// handleAdd implements POST /add: the transactional acceptance path.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var batch recordmodel.Batch
	if err := decodeJSON(r.Body, &batch); err != nil {
		writeErr(w, err)
		return
	}

	n, err := s.Ingest.Submit(r.Context(), op.ID, batch)
	if err != nil {
		writeErr(w, addErr(err))
		return
	}

	if s.Metrics != nil {
		s.Metrics.RecordIngested("all", n)
	}
	writeOK(w, http.StatusCreated, nil)
}

func addErr(err error) error {
	switch {
	case errors.Is(err, ingest.ErrEmptyBatch):
		return coordinatorerr.Semantic("batch is empty after verification")
	case errors.Is(err, ingest.ErrInvalidLease):
		return coordinatorerr.Semantic("Invalid queue ID.")
	case errors.Is(err, ingest.ErrProcessFailed):
		return coordinatorerr.Semantic("lease was no longer held at commit time")
	default:
		return coordinatorerr.Internal("ingest submit failed", err)
	}
}
