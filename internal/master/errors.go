package master

import "errors"

var (
	errMalformedLine   = errors.New("master: malformed line")
	errNotReady        = errors.New("master: request before handshake complete")
	errVersionMismatch = errors.New("master: protocol major version mismatch")
)
