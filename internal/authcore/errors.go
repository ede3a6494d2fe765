package authcore

import "errors"

// Sentinel errors for the client-protocol request handler (spec.md §4.4,
// §7 "Protocol error"). A protocol error always terminates the connection.
var (
	ErrMalformedLine      = errors.New("authcore: malformed protocol line")
	ErrDuplicateRequestID = errors.New("authcore: duplicate request id")
	ErrUnknownRequestID   = errors.New("authcore: unknown request id")
	ErrVersionMismatch    = errors.New("authcore: incompatible protocol version")
	ErrNotReady           = errors.New("authcore: connection not in READY state")
)
