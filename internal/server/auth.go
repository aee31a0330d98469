// Package server implements the credential and session store that backs the
// auth and reconnect commands.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrSessionNotFound is returned when a token has no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a token's session has expired.
	ErrSessionExpired = errors.New("session expired")
)

// AuthResult reports the outcome of an authentication attempt.
type AuthResult int

const (
	// AuthAccepted means the username was known and the password matched.
	AuthAccepted AuthResult = iota
	// AuthNewUser means the username was unseen and has been registered.
	AuthNewUser
	// AuthWrongPassword means the username was known and the password did not match.
	AuthWrongPassword
)

// Session binds a token to an authenticated identity and its current room.
// The expiration instant is fixed at issuance; tokens never renew on use.
type Session struct {
	Username  string
	ExpiresAt time.Time
	Room      *Room
}

// AuthManager owns the username/password-hash map and the token/session map.
// All operations are serialized by a single store-wide mutex; they are O(1)
// map work plus, on registration, one file append.
type AuthManager struct {
	mu          sync.Mutex
	credentials map[string]string
	sessions    map[string]*Session
	filePath    string
	tokenTTL    time.Duration
}

// NewAuthManager creates a store with the given token lifetime and loads any
// existing credentials from filePath. An empty filePath keeps the store fully
// in memory, which is what the tests use.
func NewAuthManager(filePath string, tokenTTL time.Duration) (*AuthManager, error) {
	m := &AuthManager{
		credentials: make(map[string]string),
		sessions:    make(map[string]*Session),
		filePath:    filePath,
		tokenTTL:    tokenTTL,
	}
	if filePath != "" {
		if err := m.loadCredentials(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *AuthManager) loadCredentials() error {
	file, err := os.Open(m.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("open credentials file: %w", err)
		}
		if mkErr := os.MkdirAll(filepath.Dir(m.filePath), 0o755); mkErr != nil {
			return fmt.Errorf("create credentials directory: %w", mkErr)
		}
		file, err = os.OpenFile(m.filePath, os.O_CREATE|os.O_RDONLY, 0o600)
		if err != nil {
			return fmt.Errorf("create credentials file: %w", err)
		}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			log.Printf("Skipping malformed credential line in %s", m.filePath)
			continue
		}
		m.credentials[parts[0]] = parts[1]
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}
	return nil
}

// appendCredential persists a newly registered user. Failures are logged and
// otherwise ignored: the in-memory registration still holds for this process.
func (m *AuthManager) appendCredential(username, hash string) {
	if m.filePath == "" {
		return
	}
	file, err := os.OpenFile(m.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Printf("Failed to open credentials file for append: %v", err)
		return
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%s:%s\n", username, hash); err != nil {
		log.Printf("Failed to persist credentials for %s: %v", username, err)
	}
}

// AuthenticateOrRegister verifies the password for a known username or
// registers an unseen one. A wrong password never mutates state; there is no
// lockout and no separate account-creation step.
func (m *AuthManager) AuthenticateOrRegister(username, password string) (AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if storedHash, ok := m.credentials[username]; ok {
		if bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil {
			return AuthAccepted, nil
		}
		return AuthWrongPassword, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthWrongPassword, fmt.Errorf("hash password: %w", err)
	}
	m.credentials[username] = string(hash)
	m.appendCredential(username, string(hash))
	return AuthNewUser, nil
}

// IssueToken mints a fresh random token for the user with a fixed expiration
// window. Earlier tokens for the same user remain independently valid until
// they expire.
func (m *AuthManager) IssueToken(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	token := uuid.NewString()
	m.sessions[token] = &Session{
		Username:  username,
		ExpiresAt: time.Now().Add(m.tokenTTL),
	}
	return token
}

// Validate reports whether the token maps to a live session. Expired entries
// are evicted on lookup; there is no background sweep.
func (m *AuthManager) Validate(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[token]
	if !ok {
		return false
	}
	if !time.Now().Before(session.ExpiresAt) {
		delete(m.sessions, token)
		return false
	}
	return true
}

// SessionFor returns a snapshot of the session bound to the token. Expired
// sessions are evicted and reported as expired; the next lookup reports
// not-found.
func (m *AuthManager) SessionFor(token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if !time.Now().Before(session.ExpiresAt) {
		delete(m.sessions, token)
		return Session{}, ErrSessionExpired
	}
	return *session, nil
}

// UpdateRoom records the session's current room; nil clears it. The caller
// updates room membership and the session reference as one logical operation.
func (m *AuthManager) UpdateRoom(token string, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	session.Room = room
	return nil
}
