package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Namann-14/artifex/internal/domain"
)

// TokenClaims is the access token issued by the external auth provider.
type TokenClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	OwnerID string
	Tier    domain.Tier
}

type principalKey struct{}

// ErrorBody is the JSON envelope written for rejected requests.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// SignToken issues an HS256 token for ownerID. Used by tests and local tooling.
func SignToken(secret, ownerID string, tier domain.Tier, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Tier: string(tier),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates an HS256 token.
func VerifyToken(secret, token string) (*TokenClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	claims := &TokenClaims{}
	t, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate token: %w", err)
	}
	if !t.Valid {
		return nil, errors.New("token is invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// AuthJWT rejects requests without a valid bearer token and stores the
// principal in the request context.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}
			claims, err := VerifyToken(secret, strings.TrimSpace(token))
			if err != nil {
				unauthorized(w, r, "invalid token")
				return
			}
			ctx := ContextWithPrincipal(r.Context(), Principal{
				OwnerID: claims.Subject,
				Tier:    domain.ParseTier(claims.Tier),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorBody{Message: message, Code: "unauthorized"})
}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	if strings.TrimSpace(p.OwnerID) == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored by AuthJWT.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
