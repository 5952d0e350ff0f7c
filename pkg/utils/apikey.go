// Package utils 提供通用工具函数
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// APIKeyPrefix 租户访问凭证前缀
const APIKeyPrefix = "rok_"

// GenerateAPIKey 生成租户访问凭证
// 32 字节随机数，hex 编码，带固定前缀便于日志识别
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// MaskAPIKey 脱敏展示凭证（仅保留前缀和末四位）
func MaskAPIKey(key string) string {
	if len(key) <= len(APIKeyPrefix)+4 {
		return "****"
	}
	return key[:len(APIKeyPrefix)] + "****" + key[len(key)-4:]
}
