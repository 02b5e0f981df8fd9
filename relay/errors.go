package relay

import "errors"

var (
	// ErrUnauthorized indicates the presented credential does not grant
	// access to the requested room.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken indicates a malformed or wrongly signed token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the token's validity window has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrRoomFull indicates the room's device ceiling has been reached.
	// Clients may retry later.
	ErrRoomFull = errors.New("room capacity exceeded")
	// ErrTransport indicates a dropped or unusable connection. Clients
	// reconnect with bounded exponential backoff.
	ErrTransport = errors.New("transport failure")
)

// Control frame error codes sent to clients before the connection closes.
const (
	CodeUnauthorized     = "unauthorized"
	CodeTokenExpired     = "token_expired"
	CodeCapacityExceeded = "capacity_exceeded"
	CodeInvalidRequest   = "invalid_request"
)
