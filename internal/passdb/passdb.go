// Package passdb defines the abstract credential-store contract (spec.md
// §3 "Passdb", §4.5 "Passdb Dispatch & Worker Pool"). Concrete backends
// (SQL, LDAP, passwd files) are out of scope per spec.md §1 except for the
// two reference implementations in the passdbtest and passwdfile
// subpackages, grounded on original_source/src/auth/passdb-sql.c's
// preinit/init/deinit and verify-plain/lookup-credentials split.
package passdb

import (
	"context"
	"errors"
)

// Result is the outcome of a passdb lookup, mirroring
// enum passdb_result in original_source/src/auth/passdb-sql.c.
type Result int

const (
	// ResultOK indicates the credential matched (verify-plain) or was found
	// (lookup-credentials).
	ResultOK Result = iota
	// ResultPasswordMismatch indicates the user exists but the supplied
	// credential did not match.
	ResultPasswordMismatch
	// ResultUserUnknown indicates no record exists for the user.
	ResultUserUnknown
	// ResultInternalError indicates a backend failure (unreachable DB,
	// malformed stored scheme, etc); surfaces as TEMPFAIL (spec.md §7).
	ResultInternalError
)

// String renders the result for logging.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultPasswordMismatch:
		return "PASSWORD_MISMATCH"
	case ResultUserUnknown:
		return "USER_UNKNOWN"
	case ResultInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request is the subset of an in-flight auth request a passdb needs to
// perform a lookup: username, protocol service name, and connection
// metadata usable for ACL/variable expansion (spec.md §3 "Auth request").
// It is a deliberately narrow projection of authcore.Request so this
// package does not depend on the request-handler package.
type Request struct {
	User     string
	Service  string
	RemoteIP string
	LocalIP  string
}

// ErrNotImplemented is returned by LookupCredentials backends that only
// support verify-plain (spec.md §4.5: lookups may be verify-only).
var ErrNotImplemented = errors.New("passdb: operation not implemented")

// Passdb is the polymorphic operation set every backend implements
// (spec.md §3 "Passdb" invariant: preinit runs while privileged; init runs
// after privilege drop; deinit runs exactly once in reverse order of init).
type Passdb interface {
	// Name identifies this passdb instance for logging (e.g. "passwdfile").
	Name() string

	// Blocking reports whether lookups on this backend may block the event
	// loop (e.g. synchronous SQL/LDAP calls) and so must be routed to the
	// worker pool (spec.md §4.5) rather than invoked inline.
	Blocking() bool

	// Preinit opens backend resources that require root privilege (e.g.
	// reading a root-only config file). Runs before privilege drop.
	Preinit(args map[string]string) error

	// Init performs any setup that must happen after privilege drop (e.g.
	// opening a network connection as the unprivileged uid).
	Init() error

	// Deinit releases backend resources. Called exactly once, in reverse
	// order of Init, during daemon shutdown.
	Deinit() error

	// VerifyPlain checks a cleartext password against the stored
	// credential for req.User. The canonical username (which may differ
	// from req.User, e.g. case-folded or domain-qualified) is returned on
	// ResultOK.
	VerifyPlain(ctx context.Context, req Request, password string) (res Result, canonicalUser string, err error)

	// LookupCredentials returns the stored credential string (still
	// scheme-tagged, e.g. "{BCRYPT}...") for kind (e.g. "PLAIN"), for
	// mechanisms that need to perform their own verification (e.g.
	// CRAM-MD5 needs the stored plaintext/derivable secret, not a
	// pre-verified boolean). Backends that only support verify-plain
	// return ErrNotImplemented.
	LookupCredentials(ctx context.Context, req Request, kind string) (res Result, credential string, err error)
}

// Chain invokes passdbs in order until one returns ResultOK or
// ResultInternalError; ResultUserUnknown and ResultPasswordMismatch fall
// through to the next passdb, mirroring how multiple passdb instances may
// be configured in sequence (spec.md §3 "Passdb": "multiple instances may
// be chained").
type Chain []Passdb

// VerifyPlain tries each passdb in order, returning the first non-"try
// next" result.
func (c Chain) VerifyPlain(ctx context.Context, req Request, password string) (Result, string, error) {
	if len(c) == 0 {
		return ResultInternalError, "", errors.New("passdb: no backends configured")
	}
	var last Result = ResultUserUnknown
	for _, db := range c {
		res, user, err := db.VerifyPlain(ctx, req, password)
		if err != nil {
			return ResultInternalError, "", err
		}
		if res == ResultOK || res == ResultInternalError {
			return res, user, nil
		}
		last = res
	}
	return last, "", nil
}

// LookupCredentials tries each passdb in order, returning the first
// non-"try next" result.
func (c Chain) LookupCredentials(ctx context.Context, req Request, kind string) (Result, string, error) {
	if len(c) == 0 {
		return ResultInternalError, "", errors.New("passdb: no backends configured")
	}
	var last Result = ResultUserUnknown
	for _, db := range c {
		res, cred, err := db.LookupCredentials(ctx, req, kind)
		if errors.Is(err, ErrNotImplemented) {
			continue
		}
		if err != nil {
			return ResultInternalError, "", err
		}
		if res == ResultOK || res == ResultInternalError {
			return res, cred, nil
		}
		last = res
	}
	return last, "", nil
}
