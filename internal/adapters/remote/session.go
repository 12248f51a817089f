package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
)

// SessionStore holds the access token handed over by the external auth
// flow and derives the current session from it. The token is issued and
// verified by the remote auth service; this client only reads identity and
// expiry claims from it.
type SessionStore struct {
	mu     sync.RWMutex
	token  string
	logger *logger.Logger
}

// NewSessionStore creates an empty (signed-out) session store.
func NewSessionStore(log *logger.Logger) *SessionStore {
	return &SessionStore{logger: log.WithComponent("session")}
}

// SetToken installs a new access token and returns the session it encodes.
func (s *SessionStore) SetToken(token string) (*entities.Session, error) {
	session, err := sessionFromToken(token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.logger.Infow("Session established", "user_id", session.UserID)
	return session, nil
}

// Clear drops the stored token.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Session returns the current session, nil when signed out, or
// entities.ErrAuthExpired when the stored token has lapsed.
func (s *SessionStore) Session(ctx context.Context) (*entities.Session, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return nil, nil
	}

	session, err := sessionFromToken(token)
	if err != nil {
		return nil, err
	}
	if session.Expired() {
		return nil, entities.ErrAuthExpired
	}

	return session, nil
}

// sessionFromToken extracts identity and expiry from the access token.
// Signature verification belongs to the issuing service; the claims are
// only trusted as far as deciding which snapshot row to address.
func sessionFromToken(token string) (*entities.Session, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("access token carries no subject: %w", entities.ErrNotAuthenticated)
	}

	session := &entities.Session{
		UserID:      sub,
		AccessToken: token,
	}

	if email, ok := claims["email"].(string); ok {
		session.Email = email
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpiresAt = exp.Time
		if time.Now().After(exp.Time) {
			return nil, entities.ErrAuthExpired
		}
	}

	return session, nil
}
