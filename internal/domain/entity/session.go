package entity

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleProducer Role = "producer"
)

// CredentialRefresher exchanges an expired or rejected access token for a
// fresh one. The actual refresh flow (refresh tokens, secure storage) lives
// outside this module.
type CredentialRefresher interface {
	Refresh(ctx context.Context, current string) (string, error)
}

// Session is the explicit auth context threaded through every gateway
// call. It replaces ambient token singletons so that who is calling is
// always visible at the call site.
type Session struct {
	UserID string
	Role   Role

	mu        sync.RWMutex
	token     string
	refresher CredentialRefresher
}

func NewSession(userID string, role Role, token string, refresher CredentialRefresher) *Session {
	return &Session{
		UserID:    userID,
		Role:      role,
		token:     token,
		refresher: refresher,
	}
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Expired inspects the token's exp claim without verifying the signature.
// Verification is the server's job; the client only wants to refresh
// proactively instead of burning a request on a guaranteed 401.
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	return now.After(time.Unix(int64(exp), 0))
}

// Refresh swaps the current token for a fresh one. Safe for concurrent
// use; the last refresh wins.
func (s *Session) Refresh(ctx context.Context) error {
	if s.refresher == nil {
		return nil
	}
	fresh, err := s.refresher.Refresh(ctx, s.Token())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = fresh
	s.mu.Unlock()
	return nil
}

// CanRefresh reports whether a refresher was wired in.
func (s *Session) CanRefresh() bool {
	return s.refresher != nil
}
