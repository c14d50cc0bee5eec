// Package auth verifies viewer credentials for filepulse.
// Credentials are HS256-signed JWTs carrying the viewer's identity; issuing
// them is the job of the surrounding auth system, not this service.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified identity behind a connection.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Verifier validates viewer credentials.
type Verifier struct {
	jwtSecret string
}

// NewVerifier creates a verifier with the given signing secret.
func NewVerifier(jwtSecret string) *Verifier {
	return &Verifier{jwtSecret: jwtSecret}
}

// Verify parses and validates a credential, returning the identity it carries.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	return &Identity{
		UserID: sub,
		Name:   name,
		Email:  email,
	}, nil
}

// TokenExpiry is the default lifetime of minted tokens in seconds.
const TokenExpiry = 3600

// GenerateToken mints a signed credential for the given identity.
// Used by the token CLI command and in tests.
func GenerateToken(jwtSecret string, identity *Identity, expiry time.Duration) (string, error) {
	now := time.Now()
	if expiry <= 0 {
		expiry = TokenExpiry * time.Second
	}
	claims := jwt.MapClaims{
		"sub":   identity.UserID,
		"name":  identity.Name,
		"email": identity.Email,
		"iss":   "filepulse",
		"iat":   now.Unix(),
		"exp":   now.Add(expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
