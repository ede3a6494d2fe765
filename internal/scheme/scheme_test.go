package scheme

import "testing"

func TestSplitTag(t *testing.T) {
	tests := []struct {
		stored     string
		wantScheme string
		wantEnc    string
		wantOK     bool
	}{
		{"{PLAIN}bar", "PLAIN", "bar", true},
		{"{BCRYPT}$2a$10$abc", "BCRYPT", "$2a$10$abc", true},
		{"bar", "", "bar", false},
		{"{broken", "", "{broken", false},
	}
	for _, tt := range tests {
		s, e, ok := SplitTag(tt.stored)
		if s != tt.wantScheme || e != tt.wantEnc || ok != tt.wantOK {
			t.Errorf("SplitTag(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.stored, s, e, ok, tt.wantScheme, tt.wantEnc, tt.wantOK)
		}
	}
}

func TestVerifyPlainWithTag(t *testing.T) {
	ok, err := Verify("bar", "{PLAIN}bar", "PLAIN")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = Verify("wrong", "{PLAIN}bar", "PLAIN")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyFallsBackToDefaultScheme(t *testing.T) {
	// No {SCHEME} tag: defaultScheme applies (password_get_scheme() fallback).
	ok, err := Verify("bar", "bar", "PLAIN")
	if err != nil || !ok {
		t.Fatalf("expected match via default scheme, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyUnknownScheme(t *testing.T) {
	if _, err := Verify("x", "{NOPE}y", "PLAIN"); err == nil {
		t.Error("expected error for unregistered scheme")
	}
}

func TestBcryptRoundTrip(t *testing.T) {
	s, ok := Lookup("BCRYPT")
	if !ok {
		t.Fatal("BCRYPT scheme not registered")
	}
	hash, err := s.Generate("hunter2")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	match, err := s.Verify("hunter2", hash)
	if err != nil || !match {
		t.Fatalf("expected verify match, got match=%v err=%v", match, err)
	}
	match, err = s.Verify("wrong", hash)
	if err != nil || match {
		t.Fatalf("expected verify mismatch, got match=%v err=%v", match, err)
	}
}
