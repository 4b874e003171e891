package jwt

import (
	"errors"
	"fmt"
	"time"

	"booking_service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Admin bool             `json:"admin"`
	Kind  models.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// UserID returns the subject the token was issued to.
func (c *Claims) UserID() string {
	return c.Subject
}

// NewToken signs an HS256 token for userID valid from now until now+ttl.
func NewToken(
	userID string,
	admin bool,
	kind models.TokenKind,
	issuer string,
	secret []byte,
	ttl time.Duration,
	now time.Time,
) (string, time.Time, error) {
	const op = "jwt.NewToken"

	expiresAt := now.Add(ttl)

	claims := Claims{
		Admin: admin,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, expiresAt, nil
}

// Parse validates signature and expiry against now and returns the claims.
// Every failure is reported as ErrInvalidToken.
func Parse(tokenStr string, secret []byte, now func() time.Time) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	if claims.Kind != models.TokenKindAccess && claims.Kind != models.TokenKindRefresh {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
