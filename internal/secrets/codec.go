package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"

	apperrors "keymint/internal/errors"
)

// Codec parameters. SCRYPT values follow the OWASP recommended minimums;
// nonce and tag sizes are the AES-GCM standards.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256 key size

	saltSize  = 32
	nonceSize = 12
	tagSize   = 16
)

// Codec provides one-way comparison hashing and reversible authenticated
// encryption for license secrets and recovery codes. Hashes are peppered
// with independent application-wide secrets per secret type so the two
// lookup spaces never overlap.
type Codec struct {
	masterKey      []byte
	keyPepper      []byte
	recoveryPepper []byte
}

// NewCodec creates a codec from the configured key material. All three
// values are required; a missing one is a fatal configuration error.
func NewCodec(masterKey, keyPepper, recoveryPepper string) (*Codec, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("%w: master key", apperrors.ErrConfigurationMissing)
	}
	if keyPepper == "" {
		return nil, fmt.Errorf("%w: key pepper", apperrors.ErrConfigurationMissing)
	}
	if recoveryPepper == "" {
		return nil, fmt.Errorf("%w: recovery pepper", apperrors.ErrConfigurationMissing)
	}

	return &Codec{
		masterKey:      []byte(masterKey),
		keyPepper:      []byte(keyPepper),
		recoveryPepper: []byte(recoveryPepper),
	}, nil
}

// HashKey returns the deterministic peppered digest of a plaintext license
// key, hex encoded. Same input always yields the same output; the store
// relies on this for equality lookups.
func (c *Codec) HashKey(secret string) string {
	return pepperedHash(c.keyPepper, secret)
}

// VerifyKey recomputes the key hash and compares in constant time.
func (c *Codec) VerifyKey(secret, hashValue string) bool {
	return subtle.ConstantTimeCompare([]byte(c.HashKey(secret)), []byte(hashValue)) == 1
}

// HashRecoveryCode returns the peppered digest of a recovery code using the
// recovery pepper, hex encoded.
func (c *Codec) HashRecoveryCode(code string) string {
	return pepperedHash(c.recoveryPepper, code)
}

// VerifyRecoveryCode recomputes the recovery hash and compares in constant time.
func (c *Codec) VerifyRecoveryCode(code, hashValue string) bool {
	return subtle.ConstantTimeCompare([]byte(c.HashRecoveryCode(code)), []byte(hashValue)) == 1
}

func pepperedHash(pepper []byte, secret string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt encrypts a plaintext secret with AES-256-GCM under a key derived
// from the master key with a fresh random salt. The blob encodes
// salt, nonce, auth tag and ciphertext in that order, base64 encoded.
// Encrypting the same plaintext twice yields different blobs; nonce reuse
// under the same key would break GCM confidentiality outright.
func (c *Codec) Encrypt(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.deriveGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(secret), nil)

	// Seal appends the tag after the ciphertext; the blob stores the tag
	// ahead of the ciphertext so the fixed-width components parse first.
	ciphertext := sealed[:len(sealed)-tagSize]
	authTag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, saltSize+nonceSize+tagSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, authTag...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt parses a blob produced by Encrypt, derives the key from the
// embedded salt and verifies the authentication tag. Any tampering,
// truncation or wrong key fails closed with ErrDecryptionFailed; garbled
// plaintext is never returned.
func (c *Codec) Decrypt(blobText string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(blobText)
	if err != nil {
		return "", fmt.Errorf("%w: invalid blob encoding", apperrors.ErrDecryptionFailed)
	}

	if len(blob) < saltSize+nonceSize+tagSize {
		return "", fmt.Errorf("%w: blob too short", apperrors.ErrDecryptionFailed)
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	authTag := blob[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ciphertext := blob[saltSize+nonceSize+tagSize:]

	gcm, err := c.deriveGCM(salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", apperrors.ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// deriveGCM derives the AES-256 key for the given salt and returns the GCM AEAD.
func (c *Codec) deriveGCM(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(c.masterKey, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		clearKey(key)
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		clearKey(key)
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	clearKey(key)
	return gcm, nil
}

func clearKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
