package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the caller's wallet address.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens bound to an address.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a token for address. The address is checksummed first.
func (t *Tokens) Issue(address string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	now := t.now()
	claims := Claims{
		Address: addr,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and returns the address it was issued for.
func (t *Tokens) Verify(tokenStr string) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	addr, err := ParseAddress(claims.Address)
	if err != nil {
		return "", ErrInvalidToken
	}
	return addr, nil
}
