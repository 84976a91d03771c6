package secure

import (
	"crypto/cipher"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedVersionV1 = 1

var (
	// ErrInvalidKey is returned when a SecretBox key is not 32 bytes.
	ErrInvalidKey = errors.New("secret box key must be 32 bytes")
	// ErrOpenFailed is returned when ciphertext fails authentication.
	ErrOpenFailed = errors.New("secret box open failed")
)

// SecretBox seals small records (TOTP secrets, OAuth tokens) with
// XChaCha20-Poly1305. Each record gets a fresh 24-byte nonce, and the
// associated data binds the ciphertext to the row it belongs to, so a sealed
// value copied onto another user fails to open.
//
// Wire format: version(1) | nonce(24) | ciphertext+tag.
type SecretBox struct {
	aead cipher.AEAD
	rand io.Reader
}

func NewSecretBox(key []byte, r io.Reader) (*SecretBox, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &SecretBox{aead: aead, rand: ReaderOrDefault(r)}, nil
}

// Seal encrypts plaintext bound to the given associated data.
func (b *SecretBox) Seal(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(b.rand, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+b.aead.Overhead())
	out = append(out, sealedVersionV1)
	out = append(out, nonce...)
	return b.aead.Seal(out, nonce, plaintext, associatedData), nil
}

// Open reverses Seal. Any tampering, wrong key or wrong associated data
// yields ErrOpenFailed.
func (b *SecretBox) Open(sealed, associatedData []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < 1+ns+b.aead.Overhead() || sealed[0] != sealedVersionV1 {
		return nil, ErrOpenFailed
	}
	nonce := sealed[1 : 1+ns]
	plain, err := b.aead.Open(nil, nonce, sealed[1+ns:], associatedData)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// AssociatedData joins a purpose label and an owner id into AEAD associated
// data.
func AssociatedData(purpose, owner string) []byte {
	ad := make([]byte, 0, len(purpose)+1+len(owner))
	ad = append(ad, purpose...)
	ad = append(ad, 0)
	ad = append(ad, owner...)
	return ad
}
