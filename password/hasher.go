package password

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher writes Argon2id and verifies both Argon2id and legacy bcrypt hashes.
type Hasher struct {
	argon *Argon2
	dummy string
}

// NewHasher builds a Hasher around an Argon2id config. It precomputes a dummy
// hash used by VerifyMissing.
func NewHasher(cfg Config, rnd io.Reader) (*Hasher, error) {
	a, err := NewArgon2(cfg, rnd)
	if err != nil {
		return nil, err
	}
	dummy, err := a.Hash("authguard-dummy-credential")
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a, dummy: dummy}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against encoded, dispatching on the hash prefix.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case isArgon2Hash(encoded):
		return h.argon.Verify(password, encoded)
	case isBcryptHash(encoded):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, ErrMalformedHash
	default:
		return false, ErrMalformedHash
	}
}

// VerifyMissing burns one Argon2id evaluation against a dummy hash and
// returns false. Callers use it when no credential exists so both negative
// paths cost the same.
func (h *Hasher) VerifyMissing(password string) bool {
	_, _ = h.argon.Verify(password, h.dummy)
	return false
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh
// Argon2id hash.
func (h *Hasher) NeedsUpgrade(encoded string) bool {
	if isBcryptHash(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func readerOrDefault(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}
