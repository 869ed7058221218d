// Package httpapi is the gorilla/mux router and handler set exposing the
// coordinator's HTTP surface: every response is a JSON envelope with a
// "response" field of "OK" or "ERROR", per the external-interface contract.
// Grounded on the teacher's cmd/gateway (router/middleware assembly) and
// applications/httpapi/handler.go (writeJSON/writeError/decodeJSON shape).
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
)

// writeOK writes a 200/201-class success envelope, merging fields into the
// {"response":"OK"} object.
func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"response": "OK"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeErr maps err to a status code and {"response":"ERROR","text":...}
// envelope. A *coordinatorerr.Error is mapped by Kind; anything else is
// treated as an internal error so no operation ever surfaces a bare Go
// error message across the transport boundary.
func writeErr(w http.ResponseWriter, err error) {
	var ce *coordinatorerr.Error
	if !errors.As(err, &ce) {
		ce = coordinatorerr.Internal("internal error", err)
	}
	writeJSON(w, statusFor(ce.Kind), map[string]any{
		"response": "ERROR",
		"text":     ce.Msg,
	})
}

func statusFor(kind coordinatorerr.Kind) int {
	switch kind {
	case coordinatorerr.KindUnauthenticated, coordinatorerr.KindForbidden:
		return http.StatusUnauthorized
	case coordinatorerr.KindMalformed:
		return http.StatusUnprocessableEntity
	case coordinatorerr.KindSemantic:
		return http.StatusBadRequest
	case coordinatorerr.KindConflict:
		return http.StatusConflict
	case coordinatorerr.KindNotFound:
		return http.StatusNotFound
	case coordinatorerr.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case coordinatorerr.KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func coordinatorNotFound() error {
	return coordinatorerr.NotFound("no such route")
}

func coordinatorMethodNotAllowed() error {
	return coordinatorerr.MethodNotAllowed("method not allowed for this route")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes the request body into dst, rejecting unknown fields
// and mapping any failure to a Malformed error.
func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return coordinatorerr.Malformed("could not decode request body", err)
	}
	return nil
}
