package secure

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each derives an independent 32-byte key from the master
// secret.
const (
	PurposeTOTPSecret    = "authguard/totp-secret/v1"
	PurposeOAuthToken    = "authguard/oauth-token/v1"
	PurposeAuditChecksum = "authguard/audit-checksum/v1"
	PurposePendingMFA    = "authguard/pending-2fa/v1"
)

const minMasterSecret = 32

// ErrWeakMasterSecret is returned when the master secret is shorter than 32 bytes.
var ErrWeakMasterSecret = errors.New("master secret must be at least 32 bytes")

// KeyRing derives per-purpose keys from one server-held master secret with
// HKDF-SHA256.
type KeyRing struct {
	master []byte
	salt   []byte
}

func NewKeyRing(master, salt []byte) (*KeyRing, error) {
	if len(master) < minMasterSecret {
		return nil, ErrWeakMasterSecret
	}
	return &KeyRing{
		master: append([]byte(nil), master...),
		salt:   append([]byte(nil), salt...),
	}, nil
}

// Derive returns a 32-byte key for purpose.
func (k *KeyRing) Derive(purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.master, k.salt, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SecretBox derives the key for purpose and wraps it in a SecretBox.
func (k *KeyRing) SecretBox(purpose string, rnd io.Reader) (*SecretBox, error) {
	key, err := k.Derive(purpose)
	if err != nil {
		return nil, err
	}
	return NewSecretBox(key, rnd)
}
