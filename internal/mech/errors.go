package mech

import "errors"

// errMismatch is returned internally by a mechanism's sasl.Server callback
// to signal a credential mismatch (as opposed to a backend failure), so
// the wrapping State can distinguish OutcomeFailure from
// OutcomeInternalError.
var errMismatch = errors.New("mech: credential mismatch")

// ErrUnknownMechanism names the condition of a client naming a mechanism
// absent from the registry. The request handler does not return it: it
// answers such an AUTH with a FAIL reply through the failure-delay queue.
var ErrUnknownMechanism = errors.New("mech: unknown mechanism")
