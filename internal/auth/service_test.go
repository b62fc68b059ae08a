package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payring/payring/internal/ledger/memory"
)

func newService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	return NewService(memory.New(time.Second), "test-secret", ttl)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, time.Hour)

	user, err := svc.Register(ctx, "Juan Perez", "juan@example.com", "password123")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "password123", user.PasswordHash, "password must be stored hashed")

	t.Run("duplicate email is rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, "Impostor", "juan@example.com", "password456")
		assert.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("valid credentials yield a verifiable token", func(t *testing.T) {
		token, loggedIn, err := svc.Login(ctx, "juan@example.com", "password123")
		require.NoError(t, err)
		assert.Equal(t, user.ID, loggedIn.ID)

		claims, err := svc.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, "juan@example.com", claims.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "juan@example.com", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "nobody@example.com", "password123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("garbage token", func(t *testing.T) {
		svc := newService(t, time.Hour)
		_, err := svc.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		svc := newService(t, -time.Minute)
		_, err := svc.Register(ctx, "Juan", "juan@example.com", "password123")
		require.NoError(t, err)
		token, _, err := svc.Login(ctx, "juan@example.com", "password123")
		require.NoError(t, err)

		_, err = svc.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token signed with a different secret", func(t *testing.T) {
		svc := newService(t, time.Hour)
		other := NewService(memory.New(time.Second), "other-secret", time.Hour)
		_, err := other.Register(ctx, "Juan", "juan@example.com", "password123")
		require.NoError(t, err)
		token, _, err := other.Login(ctx, "juan@example.com", "password123")
		require.NoError(t, err)

		_, err = svc.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
