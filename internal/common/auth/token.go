// Package auth validates the bearer tokens callers present to the execute endpoint.
package auth

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "codexec/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// Config enables bearer-token checks.
type Config struct {
	Enabled bool     `yaml:"enabled"`
	Secret  string   `yaml:"secret"`
	Issuer  string   `yaml:"issuer"`
	Roles   []string `yaml:"roles"`
}

// Principal is the caller identified by a valid token.
type Principal struct {
	Subject string
	Role    string
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 access tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Authenticate returns the principal carried by raw.
func (a *Authenticator) Authenticate(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue signs an access token for subject. It is used by operators to mint
// tokens for callers.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	now := a.now()
	claims := tokenClaims{
		Role:      role,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
