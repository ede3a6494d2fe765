// Package passwdfile implements a flat-file Passdb backend: one
// "user:{SCHEME}credential" entry per line, reloaded from disk on Init.
// It mirrors the preinit/init/deinit split demonstrated by
// original_source/src/auth/passdb-sql.c, with the file open/stat happening
// in Preinit (while still privileged) and the parsed table built in Init.
package passwdfile

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/infodancer/authd/internal/passdb"
	"github.com/infodancer/authd/internal/scheme"
)

// init registers this backend under "passwdfile" so config files can
// select it by name, the same blank-import self-registration convention
// internal/passdb.Register documents.
func init() {
	passdb.Register("passwdfile", func() passdb.Passdb {
		return New(scheme.Verify)
	})
}

// Passwdfile is a Passdb backed by a colon-separated flat file:
//
//	user:{SCHEME}credential
//
// Blank lines and lines starting with '#' are ignored.
type Passwdfile struct {
	path string

	mu      sync.RWMutex
	entries map[string]string // user -> "{SCHEME}credential"

	verify func(plaintext, stored, defaultScheme string) (bool, error)

	defaultScheme string
}

// New creates a Passwdfile backend. verify resolves scheme tags the same
// way internal/scheme.Verify does; it remains an injected parameter
// (rather than Passwdfile calling scheme.Verify directly) so tests can
// swap in a fixed-scheme stub without touching the global scheme
// registry init() populates.
func New(verify func(plaintext, stored, defaultScheme string) (bool, error)) *Passwdfile {
	return &Passwdfile{
		verify:        verify,
		defaultScheme: "PLAIN",
	}
}

// Name implements passdb.Passdb.
func (p *Passwdfile) Name() string { return "passwdfile" }

// Blocking implements passdb.Passdb; file lookups are in-memory after Init
// and do not need worker-pool dispatch.
func (p *Passwdfile) Blocking() bool { return false }

// Preinit resolves the "path" argument and confirms the file is readable
// while the daemon still holds root privilege (spec.md §4.1 phase
// ordering: passdb preinit runs before privilege drop).
func (p *Passwdfile) Preinit(args map[string]string) error {
	path, ok := args["path"]
	if !ok || path == "" {
		return fmt.Errorf("passwdfile: missing required arg %q", "path")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("passwdfile: %w", err)
	}
	p.path = path
	if scheme, ok := args["default_scheme"]; ok && scheme != "" {
		p.defaultScheme = scheme
	}
	return nil
}

// Init loads and parses the file, building the in-memory lookup table.
func (p *Passwdfile) Init() error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("passwdfile: %w", err)
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		user, cred, ok := strings.Cut(text, ":")
		if !ok || user == "" {
			return fmt.Errorf("passwdfile: %s:%d: malformed entry", p.path, line)
		}
		entries[user] = cred
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("passwdfile: %w", err)
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
	return nil
}

// Deinit implements passdb.Passdb; there is no open resource to release.
func (p *Passwdfile) Deinit() error {
	p.mu.Lock()
	p.entries = nil
	p.mu.Unlock()
	return nil
}

// VerifyPlain implements passdb.Passdb.
func (p *Passwdfile) VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error) {
	stored, ok := p.lookup(req.User)
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}
	match, err := p.verify(password, stored, p.defaultScheme)
	if err != nil {
		return passdb.ResultInternalError, "", err
	}
	if !match {
		return passdb.ResultPasswordMismatch, "", nil
	}
	return passdb.ResultOK, req.User, nil
}

// LookupCredentials implements passdb.Passdb.
func (p *Passwdfile) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	stored, ok := p.lookup(req.User)
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}
	return passdb.ResultOK, stored, nil
}

func (p *Passwdfile) lookup(user string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cred, ok := p.entries[user]
	return cred, ok
}
