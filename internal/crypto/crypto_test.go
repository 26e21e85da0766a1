package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateAndSaveSalt(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test_salt")

	salt, err := GenerateAndSaveSalt(tmpFile)
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}

	if len(salt) != saltSize {
		t.Errorf("Expected salt size %d, got %d", saltSize, len(salt))
	}

	// Verify it was saved
	loadedSalt, err := LoadSalt(tmpFile)
	if err != nil {
		t.Fatalf("Failed to load salt: %v", err)
	}

	if string(salt) != string(loadedSalt) {
		t.Error("Loaded salt doesn't match generated salt")
	}
}

func TestDeriveKey(t *testing.T) {
	password := "test-password"
	salt := make([]byte, saltSize)

	key := DeriveKey(password, salt)
	if len(key) != keySize {
		t.Errorf("Expected key size %d, got %d", keySize, len(key))
	}

	// Same password and salt should produce same key
	key2 := DeriveKey(password, salt)
	if string(key) != string(key2) {
		t.Error("Same password/salt produced different keys")
	}

	// Different password should produce different key
	key3 := DeriveKey("different-password", salt)
	if string(key) == string(key3) {
		t.Error("Different passwords produced same key")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := DeriveKey("test-password", make([]byte, saltSize))

	plaintext := []byte("Hello, World! This is a test message.")

	ciphertext, err := Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encryption failed: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decryption failed: %v", err)
	}

	if string(plaintext) != string(decrypted) {
		t.Error("Decrypted text doesn't match original")
	}

	wrongKey := DeriveKey("wrong-password", make([]byte, saltSize))
	if _, err := Decrypt(ciphertext, wrongKey); err == nil {
		t.Error("Decryption with the wrong key should fail")
	}
}

func TestHashBytes(t *testing.T) {
	data := []byte("test data")
	hash1 := HashBytes(data)

	if hash1 == "" {
		t.Error("Hash is empty")
	}

	// Same data should produce same hash
	if hash1 != HashBytes(data) {
		t.Error("Same data produced different hashes")
	}

	// Different data should produce different hash
	if hash1 == HashBytes([]byte("different data")) {
		t.Error("Different data produced same hash")
	}

	streamed, err := HashReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashReader failed: %v", err)
	}
	if streamed != hash1 {
		t.Error("HashReader and HashBytes disagree")
	}
}

func TestEncodeHash(t *testing.T) {
	h := NewHash()
	h.Write([]byte("part one "))
	h.Write([]byte("part two"))

	if EncodeHash(h) != HashBytes([]byte("part one part two")) {
		t.Error("Incremental hash doesn't match one-shot hash")
	}
	if strings.ToLower(EncodeHash(h)) != EncodeHash(h) {
		t.Error("Expected lowercase hex")
	}
}
