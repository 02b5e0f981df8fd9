package share

import "errors"

var (
	// ErrNotOwner indicates a caller tried to manage a grant it did not
	// create. Only the grant's owner may revoke it.
	ErrNotOwner = errors.New("not the grant owner")
	// ErrMalformedLink indicates a share link that does not carry both a
	// grant identifier and a key fragment.
	ErrMalformedLink = errors.New("malformed share link")
)
