package twofactor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// BackupCodeAlphabet omits 0/O and 1/I.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newBackupCode draws length characters. The alphabet has 32 symbols, so
// masking a byte with 31 is unbiased.
func newBackupCode(r io.Reader, length int) (string, error) {
	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(length)
	for _, c := range raw {
		b.WriteByte(BackupCodeAlphabet[c&31])
	}
	return b.String(), nil
}

// CanonicalizeBackupCode upper-cases and strips whitespace and dashes.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// BackupCodeHash salts the canonical code with the owning user id.
func BackupCodeHash(userID, canonicalCode string) string {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
