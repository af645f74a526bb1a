// ABOUTME: JWT access token generation and verification for admin-minted tokens.
// ABOUTME: Uses HS256 signing with a configurable secret; capabilities travel in claims.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// JWTVerifier generates and verifies HS256 access tokens. Tokens are minted
// from an admin API key and carry the granted capability list in the "caps"
// claim, so verification needs no store lookup.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Generate creates a token for the given key id with the given capabilities.
func (v *JWTVerifier) Generate(keyID string, capabilities []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  keyID,
		"caps": capabilities,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token and extracts the subject and capability list.
func (v *JWTVerifier) Verify(tokenString string) (keyID string, capabilities []string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, ErrExpiredToken
		}
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	rawCaps, ok := claims["caps"].([]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: missing caps claim", ErrInvalidToken)
	}
	caps := make([]string, 0, len(rawCaps))
	for _, c := range rawCaps {
		s, ok := c.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: malformed caps claim", ErrInvalidToken)
		}
		caps = append(caps, s)
	}

	return sub, caps, nil
}
