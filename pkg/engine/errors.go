package engine

import "errors"

// Sentinel errors returned by engine operations. Callers test with
// errors.Is; wrapped forms carry call-site context.
var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrTimeout            = errors.New("timeout")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNotFound           = errors.New("not found")
	ErrNotMember          = errors.New("not a group member")
	ErrNotAdmin           = errors.New("not a group admin")
	ErrAlreadyExists      = errors.New("already exists")
	ErrHashMismatch       = errors.New("hash mismatch")
	ErrFull               = errors.New("full")
)
