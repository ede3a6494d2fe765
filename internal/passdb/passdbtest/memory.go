// Package passdbtest provides an in-memory Passdb reference implementation
// for tests and the worked examples in spec.md §8. It is non-blocking: all
// lookups complete inline within the current loop tick.
package passdbtest

import (
	"context"
	"sync"

	"github.com/infodancer/authd/internal/passdb"
)

// Memory is a non-blocking, in-memory Passdb keyed by username. Stored
// values carry the same "{SCHEME}encoded" convention as any other backend.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]string // user -> "{SCHEME}credential"
	defaultScheme string
	verify        func(plaintext, stored, defaultScheme string) (bool, error)
}

// New creates an empty Memory passdb. defaultScheme is used for entries
// stored without a "{SCHEME}" tag (spec.md §4.2a, PLAIN is the only
// untagged-default scheme shipped).
func New(defaultScheme string, verify func(plaintext, stored, defaultScheme string) (bool, error)) *Memory {
	return &Memory{
		users:         make(map[string]string),
		defaultScheme: defaultScheme,
		verify:        verify,
	}
}

// Set stores a credential for user, e.g. Set("foo", "{PLAIN}bar").
func (m *Memory) Set(user, storedCredential string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user] = storedCredential
}

// Name implements passdb.Passdb.
func (m *Memory) Name() string { return "passdbtest" }

// Blocking implements passdb.Passdb; in-memory lookups never block.
func (m *Memory) Blocking() bool { return false }

// Preinit implements passdb.Passdb; nothing to do for an in-memory map.
func (m *Memory) Preinit(args map[string]string) error { return nil }

// Init implements passdb.Passdb.
func (m *Memory) Init() error { return nil }

// Deinit implements passdb.Passdb.
func (m *Memory) Deinit() error { return nil }

// VerifyPlain implements passdb.Passdb.
func (m *Memory) VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error) {
	m.mu.RLock()
	stored, ok := m.users[req.User]
	m.mu.RUnlock()
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}

	match, err := m.verify(password, stored, m.defaultScheme)
	if err != nil {
		return passdb.ResultInternalError, "", err
	}
	if !match {
		return passdb.ResultPasswordMismatch, "", nil
	}
	return passdb.ResultOK, req.User, nil
}

// LookupCredentials implements passdb.Passdb.
func (m *Memory) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	m.mu.RLock()
	stored, ok := m.users[req.User]
	m.mu.RUnlock()
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}
	return passdb.ResultOK, stored, nil
}
