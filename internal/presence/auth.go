package presence

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates a bearer token and extracts the user id it
// carries. Production code backs this with an HMAC-signed JWT check;
// tests substitute a trivial stub.
type TokenValidator interface {
	Validate(token string) (userID string, err error)
}

// JWTValidator validates HS256-signed JSON web tokens carrying a
// "userId" claim. Token *issuance* is out of scope for the presence
// plane; only validation lives here.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator builds a validator over an HMAC secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies token, returning the userId claim.
func (v *JWTValidator) Validate(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	userID, ok := claims["userId"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}

	return userID, nil
}

// extractToken implements the precedence order: Authorization header,
// then query string, then cookie.
func extractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer "), true
		}
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}

	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value, true
	}

	return "", false
}
