package entity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestExpiredReadsExpClaim(t *testing.T) {
	now := time.Now()

	past := signedToken(t, jwt.MapClaims{"sub": "buyer-1", "exp": now.Add(-time.Minute).Unix()})
	assert.True(t, NewSession("buyer-1", RoleBuyer, past, nil).Expired(now))

	future := signedToken(t, jwt.MapClaims{"sub": "buyer-1", "exp": now.Add(time.Hour).Unix()})
	assert.False(t, NewSession("buyer-1", RoleBuyer, future, nil).Expired(now))
}

func TestExpiredDefersToServerWhenUnreadable(t *testing.T) {
	now := time.Now()

	// Garbage and exp-less tokens are not the client's call; the server
	// answers 401 and the refresh-retry path takes over.
	assert.False(t, NewSession("buyer-1", RoleBuyer, "not-a-jwt", nil).Expired(now))

	noExp := signedToken(t, jwt.MapClaims{"sub": "buyer-1"})
	assert.False(t, NewSession("buyer-1", RoleBuyer, noExp, nil).Expired(now))
}

type fixedRefresher struct {
	token string
}

func (r fixedRefresher) Refresh(ctx context.Context, current string) (string, error) {
	return r.token, nil
}

func TestRefreshSwapsToken(t *testing.T) {
	s := NewSession("buyer-1", RoleBuyer, "stale", fixedRefresher{token: "fresh"})
	require.True(t, s.CanRefresh())
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, "fresh", s.Token())
}

func TestRefreshWithoutRefresherIsNoOp(t *testing.T) {
	s := NewSession("buyer-1", RoleBuyer, "stale", nil)
	require.False(t, s.CanRefresh())
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, "stale", s.Token())
}
