package api

import (
	"time"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/keyring"
)

// RegisterRequest is the JSON body for POST /auth/register. The proof is
// the passphrase-derived authentication half of the split derivation,
// base64url-encoded; the server never sees the passphrase or the master
// key half.
type RegisterRequest struct {
	Principal string          `json:"principal"`
	Proof     string          `json:"proof"`
	Profile   keyring.Profile `json:"profile"`
}

// RegisterResponse is returned from POST /auth/register.
type RegisterResponse struct {
	Principal string `json:"principal"`
}

// ProfileResponse is returned from GET /auth/profile/{principal}. It is
// the public derivation recipe a new device needs before it can log in.
type ProfileResponse struct {
	Profile keyring.Profile `json:"profile"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Principal string `json:"principal"`
	Proof     string `json:"proof"`
}

// LoginResponse is returned from POST /auth/login. The token opens the
// principal's sync room at /sync.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateGrantRequest is the JSON body for POST /grants. The payload
// arrives already sealed; clients generate the grant ID, seal locally,
// and keep the key in the link fragment. The server only meters access.
type CreateGrantRequest struct {
	GrantID   string           `json:"grant_id"`
	Payload   *crypto.Envelope `json:"payload"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"`
	MaxUses   uint32           `json:"max_uses,omitempty"`
}

// CreateGrantResponse is returned from POST /grants.
type CreateGrantResponse struct {
	GrantID string `json:"grant_id"`
}

// RedeemGrantResponse is returned from POST /grants/{grantID}/redeem.
// The payload is still sealed; the caller decrypts it with the key from
// the link fragment, which never reaches this endpoint.
type RedeemGrantResponse struct {
	GrantID string           `json:"grant_id"`
	Payload *crypto.Envelope `json:"payload"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
