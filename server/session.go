package server

import (
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/jeremygit/gummi-nfc/nfc"
)

// DefaultTokenTimeout is how long an idle API token stays valid.
const DefaultTokenTimeout = 10 * time.Minute

// SessionManager hands out the single API token that authorizes mutating
// requests. The token is bound to the origin and host that acquired it and
// expires after a period without use.
type SessionManager struct {
	token     string
	origin    string // Bound origin for the session
	host      string // Bound remote host for the session
	apiSecret string // Optional API secret for handshake
	timeout   time.Duration
	expiresAt time.Time
	clock     nfc.Clock
	mu        sync.Mutex
}

// NewSessionManager creates a new session manager. A nil clock uses the
// real clock.
func NewSessionManager(apiSecret string, timeout time.Duration, clock nfc.Clock) *SessionManager {
	if clock == nil {
		clock = nfc.NewRealClock()
	}
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &SessionManager{
		apiSecret: apiSecret,
		timeout:   timeout,
		clock:     clock,
	}
}

// Enabled reports whether an API secret is configured.
func (m *SessionManager) Enabled() bool {
	return m.apiSecret != ""
}

// generateSessionToken generates a cryptographically secure random session token
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// remoteHost strips the port from a request's RemoteAddr so that separate
// HTTP connections from one client share a binding.
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// expireLocked drops the token if it has timed out. Callers hold m.mu.
func (m *SessionManager) expireLocked() {
	if m.token != "" && !m.clock.Now().Before(m.expiresAt) {
		log.Printf("[server] Session timeout - token released")
		m.clearLocked()
	}
}

func (m *SessionManager) clearLocked() {
	m.token = ""
	m.origin = ""
	m.host = ""
	m.expiresAt = time.Time{}
}

// Acquire attempts to acquire the session token.
// Returns the token if successful, or empty string if already claimed or invalid secret.
func (m *SessionManager) Acquire(secret string, origin string, remoteAddr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiSecret != "" && secret != m.apiSecret {
		return "", nil
	}

	m.expireLocked()
	if m.token != "" {
		return "", nil
	}

	token, err := generateSessionToken()
	if err != nil {
		return "", err
	}
	m.token = token
	m.origin = origin
	m.host = remoteHost(remoteAddr)
	m.expiresAt = m.clock.Now().Add(m.timeout)

	log.Printf("[server] Session acquired: %s (origin: %s, host: %s)", m.token[:8]+"...", origin, m.host)
	return m.token, nil
}

// Validate checks the token against the current session and its origin and
// host binding. A successful check extends the timeout.
func (m *SessionManager) Validate(token string, origin string, remoteAddr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()
	if m.token == "" || m.token != token {
		return false
	}

	if m.origin != "" && origin != m.origin {
		log.Printf("[server] Session validation failed: origin mismatch (expected: %s, got: %s)", m.origin, origin)
		return false
	}

	if host := remoteHost(remoteAddr); m.host != "" && host != m.host {
		log.Printf("[server] Session validation failed: host mismatch (expected: %s, got: %s)", m.host, host)
		return false
	}

	m.expiresAt = m.clock.Now().Add(m.timeout)
	return true
}

// Release releases the current session token.
func (m *SessionManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		log.Printf("[server] Session released: %s", m.token[:8]+"...")
		m.clearLocked()
	}
}

// RefreshTimeout resets the session timeout.
func (m *SessionManager) RefreshTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		m.expiresAt = m.clock.Now().Add(m.timeout)
	}
}
