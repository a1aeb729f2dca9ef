package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// TestDeriveKey tests the Argon2id key derivation function
func TestDeriveKey(t *testing.T) {
	passphrase := []byte("test-password-123")
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}

	key := DeriveKey(passphrase, salt)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	if !bytes.Equal(key, DeriveKey(passphrase, salt)) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}
	if bytes.Equal(key, DeriveKey([]byte("different-password"), salt)) {
		t.Error("DeriveKey() with different passphrase should produce different key")
	}
}

// TestVerificationHash covers creating and checking a verification hash
func TestVerificationHash(t *testing.T) {
	passphrase := []byte("correct horse battery staple")

	hash, iv, err := NewVerificationHash(passphrase)
	if err != nil {
		t.Fatalf("NewVerificationHash() error = %v", err)
	}
	if len(iv) != IVLength {
		t.Errorf("iv length = %d, want %d", len(iv), IVLength)
	}
	if len(hash) == 0 {
		t.Fatal("empty hash")
	}
	if bytes.Contains(hash, passphrase) {
		t.Error("hash must not contain the passphrase")
	}

	if !CheckVerificationHash(passphrase, hash, iv) {
		t.Error("CheckVerificationHash() rejected the right passphrase")
	}
	if CheckVerificationHash([]byte("wrong"), hash, iv) {
		t.Error("CheckVerificationHash() accepted a wrong passphrase")
	}
}

func TestVerificationHashIsSalted(t *testing.T) {
	passphrase := []byte("same passphrase")

	hash1, iv1, err := NewVerificationHash(passphrase)
	if err != nil {
		t.Fatalf("NewVerificationHash() error = %v", err)
	}
	hash2, iv2, err := NewVerificationHash(passphrase)
	if err != nil {
		t.Fatalf("NewVerificationHash() error = %v", err)
	}

	if bytes.Equal(iv1, iv2) || bytes.Equal(hash1, hash2) {
		t.Error("two hashes of one passphrase should differ")
	}
	// A hash only checks against its own iv
	if CheckVerificationHash(passphrase, hash1, iv2) {
		t.Error("hash accepted with a foreign iv")
	}
}

func TestCheckVerificationHashMalformed(t *testing.T) {
	passphrase := []byte("passphrase")
	hash, iv, err := NewVerificationHash(passphrase)
	if err != nil {
		t.Fatalf("NewVerificationHash() error = %v", err)
	}

	tampered := append([]byte{}, hash...)
	tampered[0] ^= 0x01

	tests := []struct {
		name       string
		passphrase []byte
		hash       []byte
		iv         []byte
	}{
		{"empty passphrase", nil, hash, iv},
		{"short iv", passphrase, hash, iv[:SaltLength]},
		{"nil iv", passphrase, hash, nil},
		{"nil hash", passphrase, nil, iv},
		{"tampered hash", passphrase, tampered, iv},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CheckVerificationHash(tt.passphrase, tt.hash, tt.iv) {
				t.Error("CheckVerificationHash() should reject malformed input")
			}
		})
	}
}

func TestNewVerificationHashEmptyPassphrase(t *testing.T) {
	if _, _, err := NewVerificationHash(nil); err != ErrEmptyPassphrase {
		t.Errorf("NewVerificationHash(nil) error = %v, want %v", err, ErrEmptyPassphrase)
	}
}

// TestEncryptDecryptRoundTrip tests multiple encrypt/decrypt cycles
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("x")},
		{"binary", []byte{0x00, 0xFF, 0x01, 0xFE, 0x02, 0xFD}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(key, tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(nonce) != NonceLength {
				t.Errorf("nonce length = %d, want %d", len(nonce), NonceLength)
			}

			decrypted, err := Decrypt(key, ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("Round trip failed: got %x, want %x", decrypted, tc.plaintext)
			}
		})
	}
}

// TestDecryptErrors tests that Decrypt rejects bad input
func TestDecryptErrors(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ciphertext, nonce, err := Encrypt(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	wrongKey := make([]byte, KeyLength)

	tests := []struct {
		name       string
		key        []byte
		ciphertext []byte
		nonce      []byte
		wantErr    error
	}{
		{"short key", key[:16], ciphertext, nonce, ErrInvalidKeyLength},
		{"short nonce", key, ciphertext, nonce[:8], ErrInvalidNonceLength},
		{"short ciphertext", key, ciphertext[:10], nonce, ErrCiphertextTooShort},
		{"wrong key", wrongKey, ciphertext, nonce, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.key, tt.ciphertext, tt.nonce); err != tt.wantErr {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestEncryptInvalidKeyLength tests that Encrypt rejects invalid key lengths
func TestEncryptInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 48} {
		if _, _, err := Encrypt(make([]byte, n), []byte("x")); err != ErrInvalidKeyLength {
			t.Errorf("Encrypt() with %d byte key error = %v, want %v", n, err, ErrInvalidKeyLength)
		}
	}
}

// TestSecureWipe tests that SecureWipe zeros out memory
func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
		}
	}

	// Should not panic on nil slice
	SecureWipe(nil)
}
