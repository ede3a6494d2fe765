package passwdfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/authd/internal/passdb"
)

func verifyPlain(plaintext, stored, defaultScheme string) (bool, error) {
	return plaintext == stored, nil
}

func writeFixture(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "passwd")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPreinitMissingPath(t *testing.T) {
	p := New(verifyPlain)
	if err := p.Preinit(map[string]string{}); err == nil {
		t.Fatal("expected error for missing path arg")
	}
}

func TestPreinitMissingFile(t *testing.T) {
	p := New(verifyPlain)
	if err := p.Preinit(map[string]string{"path": "/nonexistent/passwd"}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestVerifyPlainRoundtrip(t *testing.T) {
	path := writeFixture(t, "# comment\nalice:secret\n\nbob:hunter2\n")
	p := New(verifyPlain)
	if err := p.Preinit(map[string]string{"path": path}); err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	defer p.Deinit()

	res, user, err := p.VerifyPlain(context.Background(), passdb.Request{User: "alice"}, "secret")
	if err != nil || res != passdb.ResultOK || user != "alice" {
		t.Fatalf("got res=%v user=%q err=%v", res, user, err)
	}

	res, _, err = p.VerifyPlain(context.Background(), passdb.Request{User: "alice"}, "wrong")
	if err != nil || res != passdb.ResultPasswordMismatch {
		t.Fatalf("got res=%v err=%v", res, err)
	}

	res, _, err = p.VerifyPlain(context.Background(), passdb.Request{User: "nobody"}, "x")
	if err != nil || res != passdb.ResultUserUnknown {
		t.Fatalf("got res=%v err=%v", res, err)
	}
}

func TestLookupCredentials(t *testing.T) {
	path := writeFixture(t, "alice:{PLAIN}secret\n")
	p := New(verifyPlain)
	if err := p.Preinit(map[string]string{"path": path}); err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	res, cred, err := p.LookupCredentials(context.Background(), passdb.Request{User: "alice"}, "PLAIN")
	if err != nil || res != passdb.ResultOK || cred != "{PLAIN}secret" {
		t.Fatalf("got res=%v cred=%q err=%v", res, cred, err)
	}
}

func TestMalformedEntry(t *testing.T) {
	path := writeFixture(t, "noseparatorhere\n")
	p := New(verifyPlain)
	if err := p.Preinit(map[string]string{"path": path}); err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err == nil {
		t.Fatal("expected error for malformed entry")
	}
}
