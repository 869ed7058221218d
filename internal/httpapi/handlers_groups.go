package httpapi

import (
	"net/http"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
)

type groupCreateRequest struct {
	Name        string   `json:"name"`
	Subjects    []string `json:"subjects"`
	Description string   `json:"description,omitempty"`
}

type groupUpdateRequest struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	Subjects    []string `json:"subjects"`
	Description string   `json:"description,omitempty"`
}

type groupDeleteRequest struct {
	UUID string `json:"uuid"`
}

func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req groupCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, coordinatorerr.Malformed("name is required", nil))
		return
	}

	group, err := s.Registry.CreateGroup(r.Context(), op.ID, req.Name, req.Description, req.Subjects)
	if err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"uuid": group.ID})
}

func (s *Server) handleGroupUpdate(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req groupUpdateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.UUID == "" || req.Name == "" {
		writeErr(w, coordinatorerr.Malformed("uuid and name are required", nil))
		return
	}

	if _, err := s.Registry.UpdateGroup(r.Context(), op.ID, req.UUID, req.Name, req.Description, req.Subjects); err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req groupDeleteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.UUID == "" {
		writeErr(w, coordinatorerr.Malformed("uuid is required", nil))
		return
	}

	if err := s.Registry.DeleteGroup(r.Context(), op.ID, req.UUID); err != nil {
		writeErr(w, registryErr(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}
