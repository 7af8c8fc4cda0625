package transport

import (
	"testing"
	"time"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	auth := NewAdminAuth([]byte("test-signing-key"), time.Hour)

	token, err := auth.IssueAdminToken("super-secret")
	if err != nil {
		t.Fatalf("IssueAdminToken failed: %v", err)
	}

	secret, err := auth.ParseAdminToken(token)
	if err != nil {
		t.Fatalf("ParseAdminToken failed: %v", err)
	}
	if secret != "super-secret" {
		t.Errorf("secret = %q, want %q", secret, "super-secret")
	}
}

func TestAdminTokenRejectsWrongKey(t *testing.T) {
	auth  := NewAdminAuth([]byte("key-a"), time.Hour)
	other := NewAdminAuth([]byte("key-b"), time.Hour)

	token, err := auth.IssueAdminToken("super-secret")
	if err != nil {
		t.Fatalf("IssueAdminToken failed: %v", err)
	}

	if _, err := other.ParseAdminToken(token); err == nil {
		t.Error("expected ParseAdminToken to reject a token signed with a different key")
	}
}

func TestAdminTokenRejectsExpired(t *testing.T) {
	auth := NewAdminAuth([]byte("test-signing-key"), -time.Second) // already expired

	token, err := auth.IssueAdminToken("super-secret")
	if err != nil {
		t.Fatalf("IssueAdminToken failed: %v", err)
	}

	if _, err := auth.ParseAdminToken(token); err == nil {
		t.Error("expected ParseAdminToken to reject an expired token")
	}
}

func TestAdminTokenRejectsGarbage(t *testing.T) {
	auth := NewAdminAuth([]byte("test-signing-key"), time.Hour)

	if _, err := auth.ParseAdminToken("not-a-jwt"); err == nil {
		t.Error("expected ParseAdminToken to reject a malformed token")
	}
}
