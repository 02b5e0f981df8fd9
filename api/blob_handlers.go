package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PutBlob handles PUT /blobs/{locator}. The body is an opaque sealed
// chunk; the server stores it byte-for-byte under the client-chosen
// locator. Locators are idempotent, so a retried upload is a no-op.
func (a *API) PutBlob(w http.ResponseWriter, r *http.Request) {
	locator := chi.URLParam(r, "locator")
	if _, err := uuid.Parse(locator); err != nil {
		writeError(w, http.StatusBadRequest, "locator must be a UUID")
		return
	}

	ciphertext, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "blob too large")
		return
	}
	if len(ciphertext) == 0 {
		writeError(w, http.StatusBadRequest, "blob body must not be empty")
		return
	}

	if err := a.blobs.PutChunk(r.Context(), locator, ciphertext); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditBlobStored, r, principalFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GetBlob handles GET /blobs/{locator}.
func (a *API) GetBlob(w http.ResponseWriter, r *http.Request) {
	locator := chi.URLParam(r, "locator")

	ciphertext, err := a.blobs.GetChunk(r.Context(), locator)
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditBlobFetched, r, principalFromContext(r.Context()))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(ciphertext)
}
