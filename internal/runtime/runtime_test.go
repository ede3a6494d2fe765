package runtime

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/infodancer/authd/internal/config"
)

func writePasswdFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(path, []byte("alice:{PLAIN}secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Listeners = []config.ListenerConfig{
		{Path: filepath.Join(t.TempDir(), "client.sock"), Kind: config.KindClient},
	}
	cfg.Passdbs = []config.PassdbConfig{
		{Backend: "passwdfile", Args: map[string]string{"path": writePasswdFile(t)}},
	}
	cfg.Worker.Count = 0
	return cfg
}

func TestNewWiresPlainAuthEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(cfg, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)
	defer func() {
		cancel()
		rt.Close(context.Background())
	}()

	time.Sleep(20 * time.Millisecond) // let the accept loop start

	conn, err := net.Dial("unix", cfg.Listeners[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	if err != nil || greeting != "VERSION\t1\t0\n" {
		t.Fatalf("got %q, err %v", greeting, err)
	}

	// Drain MECH lines until PLAIN is found or the handshake ends.
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if line[:len("MECH\tPLAIN")] == "MECH\tPLAIN" {
			break
		}
	}

	conn.Write([]byte("VERSION\t1\t0\n"))
	// AUTH with PLAIN initial response \0alice\0secret, base64.
	conn.Write([]byte("AUTH\t1\tPLAIN\timap\tresp=AGFsaWNlAHNlY3JldA==\n"))

	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if reply != "OK\t1\tuser=alice\n" {
		t.Fatalf("got %q", reply)
	}
}
