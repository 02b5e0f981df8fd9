package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/inkwell/internal/util"
)

// Claims is the payload of a signed session token: a principal bound to an
// issuance/expiry window. The relay validates tokens but never mints them;
// that is the auth collaborator's job (see Signer).
type Claims struct {
	Principal string    `json:"principal"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Signer mints signed session tokens. Lives server-side with the auth
// flow; the signing key never reaches clients.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer over an HMAC key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: util.CopyBytes(key)}
}

// Mint issues a token for principal valid for ttl from now.
func (s *Signer) Mint(principal string, ttl time.Duration) (string, error) {
	if principal == "" {
		return "", fmt.Errorf("principal must not be empty")
	}
	now := time.Now().UTC()
	claims := Claims{
		Principal: principal,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encoding claims: %w", err)
	}
	body := util.Base64URLEncode(payload)
	return body + "." + util.Base64URLEncode(s.sign(body)), nil
}

func (s *Signer) sign(body string) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// Verifier validates token signatures and expiry. Expiry is compared
// against the verifier's own clock, never a client-supplied timestamp, so
// client clock skew cannot extend a token's life.
type Verifier struct {
	signer *Signer
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier over the same HMAC key the Signer uses.
func NewVerifier(key []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		signer: NewSigner(key),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token signature and validity window and returns its
// claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidToken)
	}
	gotSig, err := util.Base64URLDecode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrInvalidToken)
	}
	if !hmac.Equal(gotSig, v.signer.sign(body)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	payload, err := util.Base64URLDecode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: bad payload encoding", ErrInvalidToken)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: bad payload", ErrInvalidToken)
	}
	if claims.Principal == "" {
		return nil, fmt.Errorf("%w: empty principal", ErrInvalidToken)
	}
	if !v.now().Before(claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}
