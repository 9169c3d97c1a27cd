package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MintHS256 signs a minimal HS256 token for the given subject expiring at
// exp. Providers in tests and examples use it to hand out tokens whose expiry
// claim the decoder can read back; production tokens come from the real
// identity provider.
func MintHS256(secret []byte, subject string, exp time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("hs256 requires a secret")
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
