package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
)

const (
	// IDSize is the byte length of session and record identifiers.
	IDSize = 16
	// SecretSize is the byte length of the secret half of a compound token.
	SecretSize = 32
	// ResetTokenSize gives reset tokens 512 bits of entropy.
	ResetTokenSize = 64

	compoundTokenSize = IDSize + SecretSize
)

var (
	// ErrMalformedToken is returned when a token cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")
)

// ReaderOrDefault returns r, or crypto/rand.Reader when r is nil.
func ReaderOrDefault(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

// RandomBytes reads n bytes from r.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(ReaderOrDefault(r), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(r io.Reader, n int) (string, error) {
	raw, err := RandomBytes(r, n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the SHA-256 digest of an opaque token string.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// HashHex is HashToken rendered as lowercase hex, the form stored by the
// relational repositories.
func HashHex(token string) string {
	sum := HashToken(token)
	return hex.EncodeToString(sum[:])
}

// Equal compares a and b in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// NewID returns a random identifier in its compact base64url form.
func NewID(r io.Reader) (string, error) {
	return RandomToken(r, IDSize)
}

// ParseID decodes an identifier produced by NewID.
func ParseID(id string) ([IDSize]byte, error) {
	var out [IDSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) != IDSize {
		return out, ErrMalformedToken
	}
	copy(out[:], raw)
	return out, nil
}

// NewCompoundToken generates an (id, secret) pair and the opaque token that
// carries both. Stores keep the id in the clear and only a hash of the secret.
func NewCompoundToken(r io.Reader) (id string, secretHash [32]byte, token string, err error) {
	raw, err := RandomBytes(r, compoundTokenSize)
	if err != nil {
		return "", secretHash, "", err
	}
	id = base64.RawURLEncoding.EncodeToString(raw[:IDSize])
	secretHash = sha256.Sum256(raw[IDSize:])
	token = base64.RawURLEncoding.EncodeToString(raw)
	return id, secretHash, token, nil
}

// SplitCompoundToken decodes a compound token into its id and the hash of its
// secret half.
func SplitCompoundToken(token string) (id string, secretHash [32]byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != compoundTokenSize {
		return "", secretHash, ErrMalformedToken
	}
	id = base64.RawURLEncoding.EncodeToString(raw[:IDSize])
	secretHash = sha256.Sum256(raw[IDSize:])
	return id, secretHash, nil
}
