package httpapi

import "net/http"

// handleView implements GET /view: a read-only aggregation over the
// requester's own subjects. The view-aggregation endpoint is an external
// collaborator per the core's scope — this handler only resolves the
// requested subject identifiers against the registry and returns their
// current profile data; it performs no content/presence summarization.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	ids := parseList(r.URL.Query().Get("subjects"))
	ctx := r.Context()

	viewData := make([]any, 0, len(ids))
	for _, id := range ids {
		subject, err := s.Registry.Subjects.Get(ctx, op.ID, id)
		if err != nil {
			continue
		}
		viewData = append(viewData, subject)
	}

	writeOK(w, http.StatusOK, map[string]any{"view_data": viewData})
}
