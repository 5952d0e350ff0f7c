package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", "resto-ops")

	token, err := m.GenerateToken("tenant-a", "user-1", "admin", "access", time.Minute)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "resto-ops", claims.Issuer)
}

func TestJWTRejectsBadInput(t *testing.T) {
	m := NewJWTManager("test-secret", "resto-ops")

	_, err := m.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 签名密钥不一致
	other := NewJWTManager("other-secret", "resto-ops")
	token, err := other.GenerateToken("tenant-a", "user-1", "admin", "access", time.Minute)
	require.NoError(t, err)
	_, err = m.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 已过期
	expired, err := m.GenerateToken("tenant-a", "user-1", "admin", "access", -time.Minute)
	require.NoError(t, err)
	_, err = m.ParseToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
