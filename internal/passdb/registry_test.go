package passdb

import (
	"context"
	"testing"
)

type fakeBackend struct{ name string }

func (f *fakeBackend) Name() string                   { return f.name }
func (f *fakeBackend) Blocking() bool                  { return false }
func (f *fakeBackend) Preinit(map[string]string) error { return nil }
func (f *fakeBackend) Init() error                     { return nil }
func (f *fakeBackend) Deinit() error                   { return nil }

func (f *fakeBackend) VerifyPlain(ctx context.Context, req Request, password string) (Result, string, error) {
	return ResultOK, req.User, nil
}

func (f *fakeBackend) LookupCredentials(ctx context.Context, req Request, kind string) (Result, string, error) {
	return ResultOK, "cred", nil
}

func TestRegisterAndNewRoundtrip(t *testing.T) {
	Register("faketest", func() Passdb { return &fakeBackend{name: "faketest"} })

	db, ok := New("faketest")
	if !ok {
		t.Fatal("expected faketest backend to be registered")
	}
	if db.Name() != "faketest" {
		t.Fatalf("got name %q, want faketest", db.Name())
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, ok := New("does-not-exist"); ok {
		t.Fatal("expected ok=false for unregistered backend name")
	}
}
