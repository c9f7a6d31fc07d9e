// Package wallet identifies callers by their wallet address.
package wallet

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrBadChecksum    = errors.New("wallet address checksum mismatch")
)

// ParseAddress validates a 0x-prefixed 20-byte hex address. Mixed-case input
// must carry a valid EIP-55 checksum; all-lower and all-upper input is
// accepted as is. The result is the checksummed form.
func ParseAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", ErrInvalidAddress
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}
	sum := checksum(body)
	lower, upper := strings.ToLower(body), strings.ToUpper(body)
	if body != lower && body != upper && "0x"+body != sum {
		return "", ErrBadChecksum
	}
	return sum, nil
}

// IsAddress reports whether s parses.
func IsAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func checksum(body string) string {
	lower := strings.ToLower(body)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
