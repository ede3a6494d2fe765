// Package mech implements the SASL mechanism registry and state-machine
// contract (spec.md §4.3 "Mechanism Registry & SASL State Machines").
// Each mechanism exposes an advertised name, a set of capability flags,
// and a Create operation that begins a new per-request state machine;
// the state machine itself drives base64-decoded client octets to either
// a continuation challenge or a terminal Outcome.
package mech

import (
	"context"
	"sort"
	"sync"
)

// Flag is a bitset of mechanism capabilities advertised alongside the
// mechanism name in the client protocol's MECH listing (spec.md §4.3,
// §6).
type Flag uint8

const (
	// FlagPlaintext marks a mechanism that transmits the password in the
	// clear (PLAIN, LOGIN): unsafe without a protected channel.
	FlagPlaintext Flag = 1 << iota
	// FlagAnonymous marks a mechanism that performs no credential check.
	FlagAnonymous
	// FlagDictionary marks a mechanism vulnerable to offline dictionary
	// attack against a captured exchange.
	FlagDictionary
	// FlagActive marks a mechanism vulnerable to active (man-in-the-middle)
	// attack.
	FlagActive
	// FlagPassCredentials marks a mechanism that needs the passdb's stored
	// credential itself (via LookupCredentials), not just a yes/no verdict.
	FlagPassCredentials
)

// String renders flags as a space-joined list of names, in the fixed order
// they're declared (matching the teacher's enum-to-string style).
func (f Flag) String() string {
	var names []string
	if f&FlagPlaintext != 0 {
		names = append(names, "PLAINTEXT")
	}
	if f&FlagAnonymous != 0 {
		names = append(names, "ANONYMOUS")
	}
	if f&FlagDictionary != 0 {
		names = append(names, "DICTIONARY")
	}
	if f&FlagActive != 0 {
		names = append(names, "ACTIVE")
	}
	if f&FlagPassCredentials != 0 {
		names = append(names, "PASS-CREDENTIALS")
	}
	if len(names) == 0 {
		return ""
	}
	out := names[0]
	for _, n := range names[1:] {
		out += " " + n
	}
	return out
}

// Outcome is the terminal or continuation result of one Continue step.
type Outcome int

const (
	// OutcomeContinue means the mechanism produced a server challenge and
	// expects another client response.
	OutcomeContinue Outcome = iota
	// OutcomeSuccess means credentials were extracted and verified.
	OutcomeSuccess
	// OutcomeFailure means credentials were extracted but rejected, or the
	// client aborted the exchange.
	OutcomeFailure
	// OutcomeInternalError means the passdb or mechanism logic itself
	// failed (not a credential mismatch); surfaces as TEMPFAIL (spec.md §7).
	OutcomeInternalError
)

// Authenticator is the callback surface a mechanism uses once it has
// extracted a username (and, for PLAIN/LOGIN, a password) from the client
// exchange. It is implemented by internal/authcore, which routes the call
// to the configured passdb chain, possibly via the worker pool.
type Authenticator interface {
	// VerifyPlain checks a cleartext password for user.
	VerifyPlain(ctx context.Context, user, password string) (ok bool, canonicalUser string, err error)
	// LookupCredentials returns the stored credential for user, for
	// mechanisms that must perform their own challenge/response math
	// (e.g. CRAM-MD5 needs the stored secret, not a verified boolean).
	LookupCredentials(ctx context.Context, user, kind string) (credential string, found bool, err error)
}

// State is one mechanism instance's per-request state machine (spec.md
// §4.3: create/auth_continue/free). There is no explicit Free method;
// a State is simply dropped once its Continue call returns a terminal
// Outcome or the owning request is cancelled.
type State interface {
	// Continue feeds the next client-supplied octets (already
	// base64-decoded by the request handler) and returns either a server
	// challenge (outcome == OutcomeContinue) or a terminal outcome.
	Continue(ctx context.Context, clientBytes []byte) (challenge []byte, outcome Outcome, err error)

	// Username returns the username extracted so far, or "" before the
	// mechanism has determined one.
	Username() string
}

// Mechanism is a registered SASL mechanism driver (spec.md §4.3).
type Mechanism interface {
	// Name is the advertised mechanism name, e.g. "PLAIN", "CRAM-MD5".
	Name() string
	// Flags reports this mechanism's capability bits.
	Flags() Flag
	// Create begins a new per-request state machine bound to auth.
	Create(auth Authenticator) State
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Mechanism)
)

// Register adds m to the registry, keyed by its advertised name. Intended
// to be called from package init() functions (see plain.go, login.go,
// crammd5.go, anonymous.go).
func Register(m Mechanism) {
	mu.Lock()
	defer mu.Unlock()
	registry[m.Name()] = m
}

// Lookup returns the mechanism registered under name, case-sensitive
// (names are always compared uppercase per spec.md §4.3).
func Lookup(name string) (Mechanism, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := registry[name]
	return m, ok
}

// Advertised returns all registered mechanisms sorted by name, for the
// client protocol's MECH listing (spec.md §6).
func Advertised() []Mechanism {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Mechanism, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
