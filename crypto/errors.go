package crypto

import "errors"

var (
	// ErrIntegrity indicates an authentication tag or checksum mismatch.
	// Callers must treat the ciphertext as undecryptable; retrying with the
	// same inputs cannot succeed.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrAuthentication indicates a wrong passphrase or invalid credential.
	// Recoverable by re-prompting the user.
	ErrAuthentication = errors.New("authentication failed")
)
