package httpapi

import (
	"errors"
	"net/http"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
	"github.com/berserksystems/instrumentality/internal/registry"
)

type subjectCreateRequest struct {
	Name        string              `json:"name"`
	Profiles    map[string][]string `json:"profiles"`
	Description string              `json:"description,omitempty"`
}

type subjectUpdateRequest struct {
	UUID        string              `json:"uuid"`
	Name        string              `json:"name"`
	Profiles    map[string][]string `json:"profiles"`
	Description string              `json:"description,omitempty"`
}

type subjectDeleteRequest struct {
	UUID string `json:"uuid"`
}

// registryErr maps the registry package's typed sentinels to coordinatorerr
// kinds; every other error is treated as internal.
func registryErr(err error) error {
	switch {
	case errors.Is(err, registry.ErrConflict):
		return coordinatorerr.Conflict("a subject or group with that name already exists")
	case errors.Is(err, registry.ErrUnknownPlatform):
		return coordinatorerr.Semantic("profiles name a platform unknown to configuration")
	case errors.Is(err, registry.ErrUnknownSubject):
		return coordinatorerr.Semantic("subjects must name an existing subject")
	case errors.Is(err, registry.ErrNotFound):
		return coordinatorerr.NotFound("no such subject or group")
	default:
		return coordinatorerr.Internal("registry operation failed", err)
	}
}

func (s *Server) handleSubjectCreate(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req subjectCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, coordinatorerr.Malformed("name is required", nil))
		return
	}

	subject, err := s.Registry.CreateSubject(r.Context(), op.ID, req.Name, req.Description, req.Profiles)
	if err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"uuid": subject.ID})
}

func (s *Server) handleSubjectUpdate(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req subjectUpdateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.UUID == "" || req.Name == "" {
		writeErr(w, coordinatorerr.Malformed("uuid and name are required", nil))
		return
	}

	if _, err := s.Registry.UpdateSubject(r.Context(), op.ID, req.UUID, req.Name, req.Description, req.Profiles); err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleSubjectDelete(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req subjectDeleteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.UUID == "" {
		writeErr(w, coordinatorerr.Malformed("uuid is required", nil))
		return
	}

	if err := s.Registry.DeleteSubject(r.Context(), op.ID, req.UUID); err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}
