// Package auth implements the dashboard session gate: a single configured
// credential pair and cookie-backed sessions.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowdvision/people-counter/internal/logger"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "pc_session"

// AuthError reports a rejected login. The session stays logged out.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// Gate validates the configured credential pair and tracks active sessions.
type Gate struct {
	username       string
	passwordDigest string // hex SHA-256
	ttl            time.Duration
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time // token -> expiry
}

// NewGate creates a gate for the given username and hex SHA-256 password
// digest.
func NewGate(username, passwordDigest string, ttl time.Duration) *Gate {
	return &Gate{
		username:       username,
		passwordDigest: passwordDigest,
		ttl:            ttl,
		now:            time.Now,
		sessions:       make(map[string]time.Time),
	}
}

// HashPassword returns the hex SHA-256 digest of a password, the form stored
// in configuration.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Login checks the credential pair. On success it issues a session token; on
// any mismatch it returns an *AuthError and no session is created.
func (g *Gate) Login(username, password string) (string, error) {
	digest := HashPassword(password)

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(digest), []byte(g.passwordDigest)) == 1
	if !userOK || !passOK {
		logger.Warn("Auth", "Rejected login for user %q", username)
		return "", &AuthError{Reason: "invalid credentials"}
	}

	token := uuid.NewString()
	g.mu.Lock()
	g.sessions[token] = g.now().Add(g.ttl)
	g.mu.Unlock()

	logger.Info("Auth", "User %q logged in", username)
	return token, nil
}

// Validate reports whether a session token is live, pruning it if expired.
func (g *Gate) Validate(token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.sessions[token]
	if !ok {
		return false
	}
	if g.now().After(expiry) {
		delete(g.sessions, token)
		return false
	}
	return true
}

// Logout revokes a session token.
func (g *Gate) Logout(token string) {
	g.mu.Lock()
	delete(g.sessions, token)
	g.mu.Unlock()
}

// Middleware rejects requests without a live session cookie.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || !g.Validate(cookie.Value) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
