package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmcleod/inkwell/storage"
)

// CreateGrant handles POST /grants. The payload envelope is sealed
// client-side under a key the server never receives; the grant record
// only gives the server enough to meter and expire access.
func (a *API) CreateGrant(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateGrantRequest](w, r, maxGrantBodySize)
	if !ok {
		return
	}
	if _, err := uuid.Parse(req.GrantID); err != nil {
		writeError(w, http.StatusBadRequest, "grant_id must be a UUID")
		return
	}
	if req.Payload == nil || len(req.Payload.Ciphertext) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	owner := principalFromContext(r.Context())
	grant := &storage.Grant{
		ID:        req.GrantID,
		Owner:     owner,
		Payload:   req.Payload,
		ExpiresAt: req.ExpiresAt,
		MaxUses:   req.MaxUses,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.grants.CreateGrant(r.Context(), grant); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditGrantCreated, r, owner, slog.String("grant_id", grant.ID))
	writeJSON(w, http.StatusCreated, CreateGrantResponse{GrantID: grant.ID})
}

// RedeemGrant handles POST /grants/{grantID}/redeem. The use-quota check
// and increment are a single atomic store operation, so a one-use grant
// redeemed concurrently yields exactly one ciphertext.
func (a *API) RedeemGrant(w http.ResponseWriter, r *http.Request) {
	grantID := chi.URLParam(r, "grantID")

	grant, err := a.grants.RedeemGrant(r.Context(), grantID, time.Now().UTC())
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.log(AuditGrantRedeemed, r, slog.String("grant_id", grantID))
	writeJSON(w, http.StatusOK, RedeemGrantResponse{
		GrantID: grant.ID,
		Payload: grant.Payload,
	})
}

// RevokeGrant handles DELETE /grants/{grantID}. Only the owner may
// revoke; revocation invalidates every outstanding link immediately.
func (a *API) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID := chi.URLParam(r, "grantID")
	owner := principalFromContext(r.Context())

	if err := a.shares.RevokeGrant(r.Context(), owner, grantID); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditGrantRevoked, r, owner, slog.String("grant_id", grantID))
	w.WriteHeader(http.StatusNoContent)
}
