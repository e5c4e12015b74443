package backend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/example/ridehail-demo/internal/observability"
)

// TokenSigner mints the short-lived HS256 tokens the apps hand to
// their SDK layers. Tokens are scoped by role and subject claim.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a signed token for the role and subject plus its expiry
// in milliseconds since the epoch, the unit the apps expect.
func (s *TokenSigner) Sign(role, subject string) (string, int64, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": role,
		"sub":  subject,
		"iat":  issuedAt.Unix(),
		"exp":  expiresAt.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("backend: sign %s token: %w", role, err)
	}
	observability.TokensIssuedTotal.WithLabelValues(role).Inc()
	return signed, expiresAt.UnixMilli(), nil
}

// Verify parses a token and returns its role and subject claims.
func (s *TokenSigner) Verify(tokenString string) (role, subject string, err error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("backend: parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("backend: invalid token")
	}
	role, _ = claims["role"].(string)
	subject, _ = claims["sub"].(string)
	return role, subject, nil
}
