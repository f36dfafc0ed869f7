// Package auth verifies the identity a client claims before it is trusted.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Authenticator interface {
	// Verify returns the user the token speaks for. claimed may be empty.
	Verify(ctx context.Context, token string, claimed domain.UserID) (domain.UserID, error)
}

// Issuer signs tokens its own Verify accepts.
type Issuer interface {
	Issue(uid domain.UserID, ttl time.Duration) (string, error)
}

type Claims struct {
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HMAC signed tokens whose sub claim is the user id.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Verify(_ context.Context, token string, claimed domain.UserID) (domain.UserID, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", ErrUnauthenticated)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		log.Warn().Err(err).Str("module", "auth").Msg("invalid token")
		return "", fmt.Errorf("invalid token: %w", ErrUnauthenticated)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token without subject: %w", ErrUnauthenticated)
	}
	uid, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("token subject: %w", ErrUnauthenticated)
	}
	if claimed != "" && claimed != uid {
		return "", fmt.Errorf("claimed %s but token is for %s: %w", claimed, uid, ErrUnauthenticated)
	}
	return uid, nil
}

// Issue signs a token for uid. Used by the dev session endpoint and tests.
func (a *JWTAuthenticator) Issue(uid domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   string(uid),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TrustAuthenticator is for development: a valid token is still honoured,
// otherwise the claimed id is taken as is.
type TrustAuthenticator struct {
	tokens *JWTAuthenticator
}

func NewTrustAuthenticator(secret string) *TrustAuthenticator {
	return &TrustAuthenticator{tokens: NewJWTAuthenticator(secret)}
}

func (a *TrustAuthenticator) Verify(ctx context.Context, token string, claimed domain.UserID) (domain.UserID, error) {
	if token != "" {
		return a.tokens.Verify(ctx, token, claimed)
	}
	uid, err := domain.ParseUserID(string(claimed))
	if err != nil {
		return "", fmt.Errorf("claimed identity: %w", ErrUnauthenticated)
	}
	return uid, nil
}

func (a *TrustAuthenticator) Issue(uid domain.UserID, ttl time.Duration) (string, error) {
	return a.tokens.Issue(uid, ttl)
}

// New picks the authenticator for the configured mode.
func New(required bool, secret string) Authenticator {
	if required {
		return NewJWTAuthenticator(secret)
	}
	log.Warn().Str("module", "auth").Msg("auth not required, trusting claimed identities")
	return NewTrustAuthenticator(secret)
}
