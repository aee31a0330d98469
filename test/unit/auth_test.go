// Package unit contains unit tests for individual components of the
// RelayChat server.
//
// These tests focus on testing specific functions and methods in isolation,
// using in-memory stores and fakes to avoid dependencies on external systems.
package unit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/server"
)

func newMemoryAuth(t *testing.T, ttl time.Duration) *server.AuthManager {
	t.Helper()
	auth, err := server.NewAuthManager("", ttl)
	if err != nil {
		t.Fatalf("NewAuthManager failed: %v", err)
	}
	return auth
}

// TestAuthenticateOrRegister verifies the three authentication outcomes:
// registration on first use, acceptance of a known password, and rejection of
// a wrong one without state mutation.
func TestAuthenticateOrRegister(t *testing.T) {
	auth := newMemoryAuth(t, time.Minute)

	result, err := auth.AuthenticateOrRegister("alice", "secret")
	if err != nil {
		t.Fatalf("First auth failed: %v", err)
	}
	if result != server.AuthNewUser {
		t.Errorf("Expected AuthNewUser on fresh store, got %v", result)
	}

	result, err = auth.AuthenticateOrRegister("alice", "secret")
	if err != nil {
		t.Fatalf("Second auth failed: %v", err)
	}
	if result != server.AuthAccepted {
		t.Errorf("Expected AuthAccepted for known user, got %v", result)
	}

	result, err = auth.AuthenticateOrRegister("alice", "wrong")
	if err != nil {
		t.Fatalf("Wrong-password auth errored: %v", err)
	}
	if result != server.AuthWrongPassword {
		t.Errorf("Expected AuthWrongPassword, got %v", result)
	}

	// The failed attempt must not have replaced the stored hash.
	result, err = auth.AuthenticateOrRegister("alice", "secret")
	if err != nil || result != server.AuthAccepted {
		t.Errorf("Original password no longer accepted after failed attempt: %v, %v", result, err)
	}
}

// TestCredentialPersistence verifies that registrations are appended to the
// credential file and reloaded by a fresh store.
func TestCredentialPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	auth, err := server.NewAuthManager(path, time.Minute)
	if err != nil {
		t.Fatalf("NewAuthManager failed: %v", err)
	}
	if _, err := auth.AuthenticateOrRegister("bob", "hunter2"); err != nil {
		t.Fatalf("Registration failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read credentials file: %v", err)
	}
	if !strings.HasPrefix(string(data), "bob:") {
		t.Errorf("Expected credentials file to start with %q, got %q", "bob:", string(data))
	}

	reloaded, err := server.NewAuthManager(path, time.Minute)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	result, err := reloaded.AuthenticateOrRegister("bob", "hunter2")
	if err != nil {
		t.Fatalf("Auth against reloaded store failed: %v", err)
	}
	if result != server.AuthAccepted {
		t.Errorf("Expected AuthAccepted after reload, got %v", result)
	}
}

// TestTokenValidityWindow verifies that a token is valid strictly before its
// expiration, is evicted on the first failed validation, and reports
// not-found afterwards.
func TestTokenValidityWindow(t *testing.T) {
	auth := newMemoryAuth(t, 50*time.Millisecond)

	token := auth.IssueToken("alice")
	if !auth.Validate(token) {
		t.Fatal("Fresh token reported invalid")
	}
	if _, err := auth.SessionFor(token); err != nil {
		t.Fatalf("SessionFor failed for fresh token: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	if auth.Validate(token) {
		t.Error("Expired token reported valid")
	}
	if _, err := auth.SessionFor(token); !errors.Is(err, server.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after eviction, got %v", err)
	}
}

// TestTokensIndependent verifies that issuing a new token does not invalidate
// earlier tokens for the same user.
func TestTokensIndependent(t *testing.T) {
	auth := newMemoryAuth(t, time.Minute)

	first := auth.IssueToken("alice")
	second := auth.IssueToken("alice")

	if first == second {
		t.Fatal("Expected distinct tokens per issuance")
	}
	if !auth.Validate(first) || !auth.Validate(second) {
		t.Error("Both tokens should be independently valid")
	}
}

// TestUpdateRoom verifies that the session's room reference follows join and
// leave updates and that unknown tokens are rejected.
func TestUpdateRoom(t *testing.T) {
	auth := newMemoryAuth(t, time.Minute)
	room := server.NewRoom("lobby", 16)

	token := auth.IssueToken("alice")
	if err := auth.UpdateRoom(token, room); err != nil {
		t.Fatalf("UpdateRoom failed: %v", err)
	}

	session, err := auth.SessionFor(token)
	if err != nil {
		t.Fatalf("SessionFor failed: %v", err)
	}
	if session.Room != room {
		t.Error("Session room reference not updated")
	}
	if session.Username != "alice" {
		t.Errorf("Expected username alice, got %q", session.Username)
	}

	if err := auth.UpdateRoom(token, nil); err != nil {
		t.Fatalf("Clearing room failed: %v", err)
	}
	session, _ = auth.SessionFor(token)
	if session.Room != nil {
		t.Error("Session room reference not cleared")
	}

	if err := auth.UpdateRoom("no-such-token", room); !errors.Is(err, server.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for unknown token, got %v", err)
	}
}
