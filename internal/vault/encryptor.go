package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMissingEncryptionKey is returned when the reversible-encryption secret
// is not configured at boot.
var ErrMissingEncryptionKey = errors.New("vault: encryption key is not configured")

// Encryptor provides reversible AES-256-GCM encryption for sensitive input
// that operators may need to disclose later (the keyed hash alone cannot be
// reversed). Ciphertexts are safe to persist and to log.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit key from the configured secret and prepares
// the AEAD. Any non-empty secret is accepted; derivation normalizes length.
func NewEncryptor(key string) (*Encryptor, error) {
	if key == "" {
		return nil, ErrMissingEncryptionKey
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails on tampered or truncated input.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("vault: decode: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("vault: ciphertext too short")
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("vault: open: %w", err)
	}
	return string(plain), nil
}

// Vault bundles the hasher and encryptor behind one constructor so boot code
// has a single place that enforces both secrets.
type Vault struct {
	*Hasher
	*Encryptor
}

// New creates a Vault or fails if either secret is missing.
func New(hashKey, encryptionKey string) (*Vault, error) {
	h, err := NewHasher(hashKey)
	if err != nil {
		return nil, err
	}
	e, err := NewEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &Vault{Hasher: h, Encryptor: e}, nil
}
