package app

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestDecodeKeyHex(t *testing.T) {
	// 32 bytes = 64 hex characters
	hexKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	decoded, err := DecodeKey(hexKey)
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	if len(decoded) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(decoded))
	}

	expected, _ := hex.DecodeString(hexKey)
	if string(decoded) != string(expected) {
		t.Fatal("decoded bytes don't match expected hex decoding")
	}
}

func TestDecodeKeyBase64(t *testing.T) {
	rawKey := make([]byte, 32)
	for i := range rawKey {
		rawKey[i] = byte(i)
	}
	base64Key := base64.StdEncoding.EncodeToString(rawKey)

	decoded, err := DecodeKey(base64Key)
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	if string(decoded) != string(rawKey) {
		t.Fatal("decoded bytes don't match expected base64 decoding")
	}
}

func TestDecodeKeyRawBytes(t *testing.T) {
	// If it's not valid hex or base64, treat as raw bytes
	rawKey := "this-is-a-raw-key-with-!-chars!!"
	decoded, err := DecodeKey(rawKey)
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	if string(decoded) != rawKey {
		t.Fatal("expected raw bytes passthrough")
	}
}

func TestDecodeKeyEmpty(t *testing.T) {
	if _, err := DecodeKey("   "); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestEncryptionKeyLength(t *testing.T) {
	cfg := Config{Security: SecurityConfig{
		EncryptionKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}}
	key, err := cfg.EncryptionKey()
	if err != nil {
		t.Fatalf("EncryptionKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}

	cfg.Security.EncryptionKey = "deadbeef"
	if _, err := cfg.EncryptionKey(); err == nil {
		t.Fatal("expected error for short key")
	}
}
