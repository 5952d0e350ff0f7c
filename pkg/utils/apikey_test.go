package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	k1, err := GenerateAPIKey()
	require.NoError(t, err)
	k2, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1, APIKeyPrefix))
	assert.Len(t, k1, len(APIKeyPrefix)+64)
	assert.NotEqual(t, k1, k2)
}

func TestMaskAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)

	masked := MaskAPIKey(key)
	assert.NotEqual(t, key, masked)
	assert.True(t, strings.HasPrefix(masked, APIKeyPrefix))
	assert.Equal(t, key[len(key)-4:], masked[len(masked)-4:])
	assert.NotContains(t, masked, key[len(APIKeyPrefix):len(key)-4])

	// 短串不泄任何字符
	assert.Equal(t, "****", MaskAPIKey("rok_ab"))
	assert.Equal(t, "****", MaskAPIKey(""))
}
