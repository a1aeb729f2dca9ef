// Package crypto creates and checks volume verification hashes.
//
// A verification hash lets a passphrase be checked without mounting the
// volume. The passphrase is stretched with Argon2id over a random salt and
// the resulting key seals a fixed marker with AES-256-GCM. The sealed marker
// is stored as the hash; salt and nonce together are stored as the iv.
//
// # Example Usage
//
//	hash, iv, err := crypto.NewVerificationHash([]byte("passphrase"))
//	// store hash and iv on the volume record
//
//	ok := crypto.CheckVerificationHash([]byte("passphrase"), hash, iv)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of derived keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of the Argon2id salt in bytes.
	SaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// IVLength is the length of a stored iv: salt followed by nonce.
	IVLength = SaltLength + NonceLength
)

// verificationMarker is the plaintext sealed into every verification hash.
var verificationMarker = []byte("volumectl verification v1")

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrEmptyPassphrase is returned when no passphrase was supplied.
	ErrEmptyPassphrase = errors.New("crypto: empty passphrase")
)

// DeriveKey derives a 256-bit key from a passphrase using Argon2id.
// The salt should be at least 16 bytes of cryptographically secure random data.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength)
}

// NewVerificationHash derives a verification hash for passphrase. The
// returned iv must be stored alongside the hash; both are needed to check
// a passphrase later.
func NewVerificationHash(passphrase []byte) (hash, iv []byte, err error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer SecureWipe(key)

	hash, nonce, err := Encrypt(key, verificationMarker)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, 0, IVLength)
	iv = append(iv, salt...)
	iv = append(iv, nonce...)
	return hash, iv, nil
}

// CheckVerificationHash reports whether passphrase matches a hash created
// by NewVerificationHash. Malformed input never matches.
func CheckVerificationHash(passphrase, hash, iv []byte) bool {
	if len(passphrase) == 0 || len(iv) != IVLength {
		return false
	}

	key := DeriveKey(passphrase, iv[:SaltLength])
	defer SecureWipe(key)

	plaintext, err := Decrypt(key, hash, iv[SaltLength:])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(plaintext, verificationMarker) == 1
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// The function generates a cryptographically secure random 12-byte nonce
// using crypto/rand. The authentication tag is appended to the ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// Returns ErrInvalidKeyLength, ErrInvalidNonceLength, ErrCiphertextTooShort,
// or ErrDecryptionFailed when the tag does not verify.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	// GCM tag is 16 bytes
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the writes are not optimized away
	runtime.KeepAlive(b)
}
