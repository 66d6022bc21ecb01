// Package session verifies connection credentials and tracks the
// authentication state of a single connection.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

// CookieName is the cookie that carries the session token.
const CookieName = "auth"

// ErrSessionExpired is returned by Require the first time it finds the
// cached identity expired.
var ErrSessionExpired = apperr.Auth("session expired")

// Verifier checks a token's signature and expiry.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.Claims, error)
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Gate verifies tokens and hands out per-connection sessions.
type Gate struct {
	verifier Verifier
	now      func() time.Time
}

// NewGate creates a new Gate.
func NewGate(verifier Verifier) *Gate {
	return &Gate{
		verifier: verifier,
		now:      time.Now,
	}
}

// Verify performs a full signature and expiry check of token.
func (g *Gate) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.Auth("missing credentials")
	}

	claims, err := g.verifier.VerifyToken(ctx, token)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return Identity{}, apperr.Auth("invalid token")
		}
		return Identity{}, err
	}
	if claims.UserID == "" {
		return Identity{}, apperr.Auth("invalid token")
	}
	if !claims.ExpiresAt.IsZero() && !g.now().Before(claims.ExpiresAt) {
		return Identity{}, apperr.Auth("token expired")
	}

	return Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// NewSession returns the state of a freshly connected, unauthenticated
// connection.
func (g *Gate) NewSession() *Session {
	return &Session{now: g.now}
}

// ExtractToken picks the handshake credential: the token query parameter,
// then an Authorization Bearer header, then the auth cookie.
func ExtractToken(query, authorization, cookie string) string {
	if t := strings.TrimSpace(query); t != "" {
		return t
	}
	if after, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		if t := strings.TrimSpace(after); t != "" {
			return t
		}
	}
	return strings.TrimSpace(cookie)
}

// Session is the authentication state of one connection. A connection is
// bound to the first user it authenticates as, for its whole lifetime.
type Session struct {
	mu        sync.Mutex
	identity  *Identity
	boundTo   string
	announced bool
	now       func() time.Time
}

// Authenticate records a verified identity. first is true exactly once per
// connection, on the first success.
func (s *Session) Authenticate(id Identity) (first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.boundTo != "" && s.boundTo != id.UserID {
		return false, apperr.Auth("connection is bound to another user")
	}
	s.boundTo = id.UserID
	s.identity = &id

	if s.announced {
		return false, nil
	}
	s.announced = true
	return true, nil
}

// Require returns the cached identity if it has not expired. An expired
// session drops back to unauthenticated.
func (s *Session) Require() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == nil {
		return Identity{}, apperr.Auth("not authenticated")
	}
	if !s.identity.ExpiresAt.IsZero() && !s.now().Before(s.identity.ExpiresAt) {
		s.identity = nil
		return Identity{}, ErrSessionExpired
	}
	return *s.identity, nil
}

// Authenticated reports whether the session currently holds an unexpired
// identity.
func (s *Session) Authenticated() bool {
	_, err := s.Require()
	return err == nil
}
