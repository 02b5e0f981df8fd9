package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

const tokenDuration = 24 * time.Hour

// Register handles POST /auth/register. The client derives the proof and
// profile locally; the server stores a salted hash of the proof plus the
// public derivation profile, nothing passphrase-equivalent.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Principal == "" {
		writeError(w, http.StatusBadRequest, "principal is required")
		return
	}
	proof, err := util.Base64URLDecode(req.Proof)
	if err != nil || len(proof) != crypto.AuthProofLen {
		writeError(w, http.StatusBadRequest, "proof must be a base64url-encoded 32-byte value")
		return
	}
	// Weak derivation parameters would let a future database leak be
	// brute-forced; refuse them at the door.
	if err := req.Profile.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, salt, err := crypto.SaltedHash(proof)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash proof")
		return
	}
	account := &storage.Account{
		Principal: req.Principal,
		ProofHash: hash,
		ProofSalt: salt,
		Profile:   req.Profile.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.accounts.CreateAccount(r.Context(), account); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditRegister, r, req.Principal)
	writeJSON(w, http.StatusCreated, RegisterResponse{Principal: req.Principal})
}

// GetProfile handles GET /auth/profile/{principal}. The profile is public
// derivation metadata; a new device fetches it before running the KDF.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	account, err := a.accounts.GetAccount(r.Context(), principal)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: account.Profile})
}

// Login handles POST /auth/login. A valid proof earns a signed session
// token that opens both the REST surface and the principal's sync room.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Principal == "" {
		writeError(w, http.StatusBadRequest, "principal is required")
		return
	}

	if blocked, retryAfter := a.rateLimiter.check(req.Principal); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "too many failed attempts")
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	proof, err := util.Base64URLDecode(req.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof must be base64url-encoded")
		return
	}

	account, err := a.accounts.GetAccount(r.Context(), req.Principal)
	if err != nil {
		// Indistinguishable from a wrong proof so principals cannot be
		// enumerated through this endpoint.
		a.rateLimiter.recordFailure(req.Principal)
		a.audit.logFailure(AuditLoginFailure, r, "unknown principal")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !crypto.VerifySaltedHash(account.ProofHash, proof, account.ProofSalt) {
		a.rateLimiter.recordFailure(req.Principal)
		a.audit.logFailure(AuditLoginFailure, r, "proof mismatch")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.rateLimiter.recordSuccess(req.Principal)

	token, err := a.tokens.Mint(req.Principal, tokenDuration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}

	a.audit.logEvent(AuditLoginSuccess, r, req.Principal)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(tokenDuration),
	})
}
