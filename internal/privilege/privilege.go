// Package privilege implements the root-phase startup sequence (spec.md
// §4.1): opening root-only resources, creating and chowning listener
// sockets, and dropping to an unprivileged identity, grounded on
// original_source/src/auth/main.c's open_logfile/create_unix_listener/
// add_extra_listeners/drop_privileges.
package privilege

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/infodancer/authd/internal/config"
	"github.com/infodancer/authd/internal/passdb"
	"github.com/infodancer/authd/internal/scheme"
)

// staleRetries bounds the stale-socket unlink-and-retry loop (spec.md
// §4.1, original_source's `for (i = 0; i < 5; i++)`).
const staleRetries = 5

// Manager provides the privileged startup phases of spec.md §4.1 that
// follow the log sink: preinit passdbs, init scheme registry, create
// listener sockets, then apply the restrict-access policy. It has no
// log-sink or random-source phase; the caller supplies the logger and runs
// the phases in order. Every phase before the last may use root
// privilege; nothing after it may.
type Manager struct {
	cfg    config.Config
	logger *slog.Logger

	// Listeners holds every socket created by CreateListeners, in the
	// order their ListenerConfig entries appeared.
	Listeners []*Listener
}

// NewManager constructs a Manager for cfg.
func NewManager(cfg config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Listener is one bound-and-listening socket plus the bookkeeping needed
// to unlink it on clean shutdown (spec.md §3 "Listener").
type Listener struct {
	Kind config.ListenerKind
	Path string
	FD   *os.File
	Ln   net.Listener
}

// PreinitPassdbs runs Preinit on every configured passdb while still
// privileged (spec.md §4.1 phase c), so backend config files may be
// root-readable. Each configured entry gets its own fresh instance from
// passdb.New, resolved by name against whatever backend packages were
// blank-imported into this binary (see internal/passdb.Register).
func (m *Manager) PreinitPassdbs() (passdb.Chain, error) {
	chain := make(passdb.Chain, 0, len(m.cfg.Passdbs))
	for _, pc := range m.cfg.Passdbs {
		db, ok := passdb.New(pc.Backend)
		if !ok {
			return nil, fmt.Errorf("privilege: unknown passdb backend %q", pc.Backend)
		}
		if err := db.Preinit(pc.Args); err != nil {
			return nil, fmt.Errorf("privilege: preinit %q: %w", pc.Backend, err)
		}
		chain = append(chain, db)
	}
	return chain, nil
}

// InitSchemeRegistry is phase (d): the scheme registry self-registers via
// package init() functions (internal/scheme/plain.go, bcrypt.go), so this
// phase is a confirming no-op retained to keep the phase ordering
// explicit and auditable, matching original_source's
// password_schemes_init() call site.
func (m *Manager) InitSchemeRegistry() error {
	if _, ok := scheme.Lookup("PLAIN"); !ok {
		return fmt.Errorf("privilege: PLAIN scheme not registered")
	}
	return nil
}

// CreateListeners is phase (e): opens every configured listener socket as
// root, retrying on a stale leftover socket path, then chowns it
// (original_source's create_unix_listener).
func (m *Manager) CreateListeners() error {
	for _, lc := range m.cfg.Listeners {
		ln, err := createUnixListener(lc)
		if err != nil {
			return fmt.Errorf("privilege: create listener %s: %w", lc.Path, err)
		}
		m.Listeners = append(m.Listeners, ln)
	}
	return nil
}

// createUnixListener mirrors original_source's create_unix_listener: the
// configured mode is inverted into a umask, applied only for the
// bind/listen call, then restored; on EADDRINUSE the path is
// connect-tested — a CONNECTION_REFUSED peer means the socket is stale
// and is unlinked and retried, up to staleRetries times.
func createUnixListener(lc config.ListenerConfig) (*Listener, error) {
	mask := modeMask(lc.Mode)

	var ln net.Listener
	var err error
	old := syscall.Umask(mask)
	for i := 0; i < staleRetries; i++ {
		ln, err = net.Listen("unix", lc.Path)
		if err == nil {
			break
		}
		if !isAddrInUse(err) {
			syscall.Umask(old)
			return nil, err
		}
		if !isStale(lc.Path) {
			syscall.Umask(old)
			return nil, fmt.Errorf("socket already exists and is live: %s", lc.Path)
		}
		if rmErr := os.Remove(lc.Path); rmErr != nil {
			syscall.Umask(old)
			return nil, fmt.Errorf("unlink %s: %w", lc.Path, rmErr)
		}
	}
	syscall.Umask(old)
	if err != nil {
		return nil, err
	}

	if chownErr := chownListener(lc); chownErr != nil {
		ln.Close()
		return nil, chownErr
	}

	return &Listener{Kind: lc.Kind, Path: lc.Path, Ln: ln}, nil
}

// modeMask inverts a configured octal socket mode into the umask value
// that will make bind/listen produce that mode; an unset mode defaults
// to 0600, matching original_source's `mask = 0177`.
func modeMask(mode string) int {
	if mode == "" {
		return 0177
	}
	m, err := strconv.ParseInt(mode, 8, 32)
	if err != nil {
		return 0177
	}
	return int(m^0777) & 0777
}

// isStale reports whether path refers to a leftover socket with no
// listening peer (connect fails with ECONNREFUSED).
func isStale(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return false
	}
	return isConnRefused(err)
}

func chownListener(lc config.ListenerConfig) error {
	if lc.User == "" && lc.Group == "" {
		return nil
	}
	uid := -1
	if lc.User != "" {
		u, err := user.Lookup(lc.User)
		if err != nil {
			return fmt.Errorf("user %q: %w", lc.User, err)
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	gid := -1
	if lc.Group != "" {
		g, err := user.LookupGroup(lc.Group)
		if err != nil {
			return fmt.Errorf("group %q: %w", lc.Group, err)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return os.Chown(lc.Path, uid, gid)
}

// RestrictAccess is phase (f): the final, irreversible step. After this
// returns successfully, no code path in the process may require root
// (spec.md §4.1). UID/GID/group names are resolved via the system
// account database, matching original_source's get_uid/get_gid.
func (m *Manager) RestrictAccess() error {
	ra := m.cfg.RestrictAccess

	var gid int
	if ra.GID != "" {
		g, err := user.LookupGroup(ra.GID)
		if err != nil {
			return fmt.Errorf("privilege: group %q: %w", ra.GID, err)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}

	extra := make([]int, 0, len(ra.ExtraGroups))
	for _, name := range ra.ExtraGroups {
		g, err := user.LookupGroup(name)
		if err != nil {
			return fmt.Errorf("privilege: extra group %q: %w", name, err)
		}
		id, _ := strconv.Atoi(g.Gid)
		extra = append(extra, id)
	}

	if ra.GID != "" {
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("privilege: setgid: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := syscall.Setgroups(extra); err != nil {
			return fmt.Errorf("privilege: setgroups: %w", err)
		}
	}
	if ra.Chroot != "" {
		if err := syscall.Chroot(ra.Chroot); err != nil {
			return fmt.Errorf("privilege: chroot %s: %w", ra.Chroot, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("privilege: chdir after chroot: %w", err)
		}
	}
	if ra.UID != "" {
		u, err := user.Lookup(ra.UID)
		if err != nil {
			return fmt.Errorf("privilege: user %q: %w", ra.UID, err)
		}
		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("privilege: setuid: %w", err)
		}
	}
	return nil
}

// Cleanup unlinks every listener's socket path, for use during ordered
// shutdown (internal/runtime.Runtime.Close).
func (m *Manager) Cleanup(ctx context.Context) {
	for _, l := range m.Listeners {
		if l.Ln != nil {
			l.Ln.Close()
		}
		if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to unlink listener socket", "path", l.Path, "error", err)
		}
	}
}
