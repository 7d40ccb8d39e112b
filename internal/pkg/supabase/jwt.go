package supabase

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/illegalcall/ai-credits/internal/models"
)

const authenticatedAudience = "authenticated"

// AccessTokenClaims is the subset of a Supabase access token the API reads.
type AccessTokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver verifies Supabase access tokens locally with the project's JWT
// secret instead of calling the auth server.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) ResolveToken(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(authenticatedAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid access token: missing subject")
	}

	return &models.Identity{ID: claims.Subject, Email: claims.Email}, nil
}
