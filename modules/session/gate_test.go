package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/apperr"
)

type fakeVerifier struct {
	verifyFn func(ctx context.Context, token string) (*domain.Claims, error)
}

func (f *fakeVerifier) VerifyToken(ctx context.Context, token string) (*domain.Claims, error) {
	return f.verifyFn(ctx, token)
}

func tokenVerifier(now time.Time) *fakeVerifier {
	return &fakeVerifier{verifyFn: func(_ context.Context, token string) (*domain.Claims, error) {
		switch token {
		case "alice-token":
			return &domain.Claims{UserID: "alice", Username: "alice", ExpiresAt: now.Add(time.Hour)}, nil
		case "bob-token":
			return &domain.Claims{UserID: "bob", Username: "bob", ExpiresAt: now.Add(time.Hour)}, nil
		case "stale-token":
			return &domain.Claims{UserID: "alice", ExpiresAt: now.Add(-time.Minute)}, nil
		case "down":
			return nil, apperr.Unavailable("verify-token request failed", errors.New("timeout"))
		}
		return nil, apperr.Auth("invalid token")
	}}
}

func TestGate_Verify(t *testing.T) {
	now := time.Now()
	gate := NewGate(tokenVerifier(now))
	gate.now = func() time.Time { return now }

	tests := []struct {
		name     string
		token    string
		wantUser string
		wantKind apperr.Kind
	}{
		{"valid", "alice-token", "alice", ""},
		{"surrounding spaces", "  alice-token ", "alice", ""},
		{"missing", "", "", apperr.KindAuth},
		{"forged", "forged", "", apperr.KindAuth},
		{"expired", "stale-token", "", apperr.KindAuth},
		{"verifier unavailable", "down", "", apperr.KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := gate.Verify(context.Background(), tt.token)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, id.UserID)
		})
	}
}

func TestSession_AuthenticateOnce(t *testing.T) {
	gate := NewGate(tokenVerifier(time.Now()))
	s := gate.NewSession()

	_, err := s.Require()
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))

	id, err := gate.Verify(context.Background(), "alice-token")
	require.NoError(t, err)

	first, err := s.Authenticate(id)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.Authenticate(id)
	require.NoError(t, err)
	assert.False(t, first)

	got, err := s.Require()
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
}

func TestSession_BoundToFirstUser(t *testing.T) {
	gate := NewGate(tokenVerifier(time.Now()))
	s := gate.NewSession()

	alice, err := gate.Verify(context.Background(), "alice-token")
	require.NoError(t, err)
	bob, err := gate.Verify(context.Background(), "bob-token")
	require.NoError(t, err)

	_, err = s.Authenticate(alice)
	require.NoError(t, err)

	_, err = s.Authenticate(bob)
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))

	got, err := s.Require()
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
}

func TestSession_ExpiryDropsBack(t *testing.T) {
	now := time.Now()
	gate := NewGate(tokenVerifier(now))
	gate.now = func() time.Time { return now }
	s := gate.NewSession()

	id, err := gate.Verify(context.Background(), "alice-token")
	require.NoError(t, err)
	_, err = s.Authenticate(id)
	require.NoError(t, err)
	assert.True(t, s.Authenticated())

	now = now.Add(2 * time.Hour)

	_, err = s.Require()
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, s.Authenticated())

	_, err = s.Require()
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))
	assert.NotErrorIs(t, err, ErrSessionExpired, "expiry is reported once")

	first, err := s.Authenticate(Identity{UserID: "alice", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, first, "identity is announced only once per connection")
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		header string
		cookie string
		want   string
	}{
		{"query wins", "q", "Bearer h", "c", "q"},
		{"bearer header", "", "Bearer h", "c", "h"},
		{"non-bearer header ignored", "", "Basic h", "c", "c"},
		{"empty bearer falls through", "", "Bearer  ", "c", "c"},
		{"cookie", "", "", "c", "c"},
		{"none", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractToken(tt.query, tt.header, tt.cookie))
		})
	}
}
