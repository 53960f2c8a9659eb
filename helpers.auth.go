package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const IdentityContextKey ContextKey = "request.identity"

var (
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid access token", ErrUnauthorized)
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs an HS256 token where `sub` is the user id and `role` its role.
func IssueAccessToken(config *AuthConfig, userID string, role Role, now time.Time) (string, error) {
	claims := accessClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.TokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(config.Secret))
}

// ParseAccessToken verifies the bearer token of an Authorization header value
// at the given time and returns the identity it carries.
func ParseAccessToken(config *AuthConfig, authHeader string, now time.Time) (Identity, error) {
	tokenStr := strings.TrimSpace(authHeader)
	if len(tokenStr) > 7 && strings.EqualFold(tokenStr[:7], "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	} else {
		tokenStr = ""
	}
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(config.Secret), nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	identity := Identity{UserID: claims.Subject, Role: Role(claims.Role)}
	if identity.UserID == "" || !IsKnownRole(identity.Role) {
		return Identity{}, ErrInvalidToken
	}
	return identity, nil
}

// GetIdentityFromContext returns the identity set by the access middleware.
func GetIdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(Identity)
	return identity, ok
}
