// Package scheme implements the password scheme registry (spec.md §4.1,
// "Password scheme registry"): a map from scheme name to verify/generate
// functions, plus the "{SCHEME}password" tag convention used by passdb
// backends to record which scheme a stored credential uses
// (original_source/src/auth/passdb-sql.c's password_get_scheme()).
//
// Concrete scheme implementations are out of scope per spec.md §1 except as
// noted in SPEC_FULL.md §4.2a; this package ships PLAIN and BCRYPT only.
package scheme

import (
	"fmt"
	"strings"
)

// VerifyFunc checks plaintext against a stored credential in this scheme's
// encoding. Returns (true, nil) on match, (false, nil) on mismatch, and a
// non-nil error only for malformed stored credentials.
type VerifyFunc func(plaintext, stored string) (bool, error)

// GenerateFunc produces a new stored credential for plaintext in this
// scheme's encoding.
type GenerateFunc func(plaintext string) (string, error)

// Scheme is one registered password scheme.
type Scheme struct {
	Name     string
	Verify   VerifyFunc
	Generate GenerateFunc
}

var registry = map[string]Scheme{}

// Register adds s to the registry, keyed by the upper-cased scheme name.
// Intended to be called from package init() functions, mirroring how
// passdb backends register themselves via blank imports.
func Register(s Scheme) {
	registry[strings.ToUpper(s.Name)] = s
}

// Lookup returns the registered scheme by name (case-insensitive), or false
// if none is registered.
func Lookup(name string) (Scheme, bool) {
	s, ok := registry[strings.ToUpper(name)]
	return s, ok
}

// SplitTag splits a stored credential of the form "{SCHEME}encoded" into
// its scheme name and encoded payload. If stored carries no recognized
// "{...}" tag, ok is false and scheme/encoded are the zero value / the
// input unchanged, mirroring password_get_scheme()'s fallback-to-default
// behaviour in original_source/src/auth/passdb-sql.c.
func SplitTag(stored string) (schemeName, encoded string, ok bool) {
	if !strings.HasPrefix(stored, "{") {
		return "", stored, false
	}
	end := strings.Index(stored, "}")
	if end < 0 {
		return "", stored, false
	}
	return stored[1:end], stored[end+1:], true
}

// Verify checks plaintext against a stored credential, resolving the
// scheme from the "{SCHEME}" tag if present, or defaultScheme otherwise.
// Returns an error if the resolved scheme is not registered.
func Verify(plaintext, stored, defaultScheme string) (bool, error) {
	name, encoded, ok := SplitTag(stored)
	if !ok {
		name = defaultScheme
		encoded = stored
	}
	s, ok := Lookup(name)
	if !ok {
		return false, fmt.Errorf("unknown password scheme %q", name)
	}
	return s.Verify(plaintext, encoded)
}
