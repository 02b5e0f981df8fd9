package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/share"
	"github.com/jmcleod/inkwell/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crypto.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, share.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, storage.ErrGrantExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, storage.ErrGrantExhausted):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
