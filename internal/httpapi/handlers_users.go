package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/berserksystems/instrumentality/internal/access"
	"github.com/berserksystems/instrumentality/internal/coordinatorerr"
	"github.com/berserksystems/instrumentality/internal/identity"
)

func (s *Server) handleFrontpage(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{
		"content_types":  s.Config.ContentTypes,
		"presence_types": s.Config.PresenceTypes,
	})
}

type userView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
	Key       string    `json:"key,omitempty"`
}

func toUserView(op identity.Operator) userView {
	return userView{ID: op.ID, Name: op.Name, Admin: op.Admin, CreatedAt: op.CreatedAt}
}

type registerRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// handleRegister redeems a single-use referral code, minting a new operator
// whose key is returned exactly once — the only time the plaintext
// credential is ever observable, since only its digest is persisted.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeErr(w, coordinatorerr.Malformed("code and name are required", nil))
		return
	}

	ctx := r.Context()
	digest := identity.DigestCredential(req.Code)
	referral, err := s.Referrals.FindByCodeDigest(ctx, digest)
	if err != nil || referral.Used {
		writeErr(w, coordinatorerr.Unauthenticated("invalid or already-used invite code"))
		return
	}

	key, keyDigest, err := identity.GenerateOperatorKey()
	if err != nil {
		writeErr(w, coordinatorerr.Internal("generate operator key", err))
		return
	}

	var op identity.Operator
	err = s.WithTx(ctx, func(ctx context.Context) error {
		op, err = s.Operators.Create(ctx, identity.Operator{
			ID:             uuid.NewString(),
			Name:           req.Name,
			CredentialHash: keyDigest,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return s.Referrals.MarkUsed(ctx, referral.ID, op.ID)
	})
	if err != nil {
		writeErr(w, coordinatorerr.Internal("redeem referral", err))
		return
	}

	view := toUserView(op)
	view.Key = key
	writeOK(w, http.StatusCreated, map[string]any{"user": view})
}

// handleInvite mints a fresh single-use invite code attributed to the
// calling operator.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	code, codeDigest, err := identity.GenerateInviteCode()
	if err != nil {
		writeErr(w, coordinatorerr.Internal("generate invite code", err))
		return
	}

	_, err = s.Referrals.Create(r.Context(), identity.Referral{
		ID:        uuid.NewString(),
		IssuerID:  op.ID,
		CodeHash:  codeDigest,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		writeErr(w, coordinatorerr.Internal("create referral", err))
		return
	}

	writeOK(w, http.StatusCreated, map[string]any{"code": code})
}

// handleLogin returns the authenticated operator along with their subjects
// and groups, letting a client bootstrap its view in one call.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	ctx := r.Context()
	subjects, err := s.Registry.Subjects.List(ctx, op.ID)
	if err != nil {
		writeErr(w, coordinatorerr.Internal("list subjects", err))
		return
	}
	groups, err := s.Registry.Groups.List(ctx, op.ID)
	if err != nil {
		writeErr(w, coordinatorerr.Internal("list groups", err))
		return
	}

	writeOK(w, http.StatusOK, map[string]any{
		"user":     toUserView(op),
		"subjects": subjects,
		"groups":   groups,
	})
}

// handleResetKey rotates the authenticated operator's credential,
// invalidating the old key immediately.
func (s *Server) handleResetKey(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	key, digest, err := identity.GenerateOperatorKey()
	if err != nil {
		writeErr(w, coordinatorerr.Internal("generate operator key", err))
		return
	}
	if err := s.Operators.UpdateCredentialDigest(r.Context(), op.ID, digest); err != nil {
		writeErr(w, coordinatorerr.Internal("rotate operator key", err))
		return
	}

	writeOK(w, http.StatusOK, map[string]any{"key": key})
}

// handleHalt is the admin-only graceful-shutdown trigger.
func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	op, err := s.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := access.RequireAdmin(op); err != nil {
		writeErr(w, err)
		return
	}

	writeOK(w, http.StatusOK, nil)
	if s.Shutdown != nil {
		go s.Shutdown()
	}
}
