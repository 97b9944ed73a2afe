package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// It tries hex first (since runtime defaults use hex), then base64 variants.
// If all decoding attempts fail, it treats the input as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	// Support both standard and raw base64 encodings
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	// Fallback to treating as raw bytes
	return []byte(v), nil
}

// EncryptionKey decodes the configured secrets encryption key and verifies it
// is a valid AES-256 key.
func (c *Config) EncryptionKey() ([]byte, error) {
	key, err := DecodeKey(c.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("security.encryption_key: expected 32 bytes, got %d", len(key))
	}
	return key, nil
}
