package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token is structurally invalid or its
// expiry claim cannot be decoded.
var ErrMalformedToken = errors.New("malformed token")

// ErrNoExpiryClaim is returned when a structurally valid token carries no
// exp claim.
var ErrNoExpiryClaim = errors.New("token has no expiry claim")

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ExpiresAt decodes the exp claim from the token's three dot-separated
// segments without verifying the signature. Any structural or parse failure
// is an error; callers treating decode failure as "expired" get the fail-safe
// behavior via [IsExpired].
func ExpiresAt(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, ErrMalformedToken
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, ErrMalformedToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiryClaim
	}

	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether the token's decoded expiry, minus buffer, has
// passed. A token that cannot be decoded is reported expired: forcing a
// refresh is cheaper than risking an unusable credential.
func IsExpired(token string, buffer time.Duration, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return true
	}
	return !now.Before(exp.Add(-buffer))
}
