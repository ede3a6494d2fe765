package privilege

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/authd/internal/config"
)

func TestModeMaskDefault(t *testing.T) {
	if got := modeMask(""); got != 0177 {
		t.Fatalf("got mask %#o, want 0177", got)
	}
}

func TestModeMaskCustom(t *testing.T) {
	// mode 0644 -> mask = (0644 ^ 0777) & 0777 = 0133
	if got := modeMask("0644"); got != 0133 {
		t.Fatalf("got mask %#o, want 0133", got)
	}
}

func TestCreateUnixListenerFreshSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.sock")

	l, err := createUnixListener(config.ListenerConfig{Path: path, Kind: config.KindClient})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Ln.Close()

	if l.Path != path || l.Kind != config.KindClient {
		t.Fatalf("got %+v", l)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestCreateUnixListenerRetriesOnStaleSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.sock")

	// Create a listener and close it without unlinking, leaving a stale
	// socket file with no peer (spec.md §8 invariant 6, §6 "stale
	// sockets... unlinked and retried up to 5 times").
	stale, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	l, err := createUnixListener(config.ListenerConfig{Path: path, Kind: config.KindClient})
	if err != nil {
		t.Fatalf("expected success on stale-socket retry, got %v", err)
	}
	defer l.Ln.Close()
}

func TestIsStaleDetectsDeadSocket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dead.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false) // leave the socket file behind
	ln.Close()

	if !isStale(path) {
		t.Fatal("expected isStale to detect a closed listener's leftover path")
	}
}

func TestIsStaleFalseForLivePeer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	if isStale(path) {
		t.Fatal("expected isStale to be false for a live listener")
	}
}
