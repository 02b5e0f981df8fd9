package keyring

import "errors"

// ErrSessionClosed indicates the session has already been closed and its
// key material destroyed.
var ErrSessionClosed = errors.New("session closed")
