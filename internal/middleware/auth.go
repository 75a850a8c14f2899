// Package middleware hosts principal resolution, logging, and rate
// limiting middleware for the privacy service.
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexus/internal/budget"
	apperrors "nexus/pkg/errors"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxPrincipalKey     contextKey = "principal"
	ctxAuthenticatedKey contextKey = "authenticated"
)

// PrincipalResolver maps each request to the principal whose privacy
// budget it spends. Resolution is permissive by design: a missing or
// invalid bearer token degrades to the anonymous principal instead of
// rejecting the request, matching the budget model where unauthenticated
// callers share one well-known ledger. A *presented* API key that fails
// verification is rejected outright.
type PrincipalResolver struct {
	jwtSecret string
	keyHashes map[string]struct{}
}

// NewPrincipalResolver constructs a resolver. apiKeys are the raw
// configured keys; only their SHA-256 digests are retained.
func NewPrincipalResolver(jwtSecret string, apiKeys []string) *PrincipalResolver {
	hashes := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k == "" {
			continue
		}
		hashes[hashKey(k)] = struct{}{}
	}
	return &PrincipalResolver{
		jwtSecret: jwtSecret,
		keyHashes: hashes,
	}
}

// Resolve populates the request context with the resolved principal.
func (m *PrincipalResolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, ok := m.principalFromToken(r); ok {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal, true)))
			return
		}

		if key := presentedAPIKey(r); key != "" {
			principal, err := m.principalFromAPIKey(key)
			if err != nil {
				jsonError(w, http.StatusUnauthorized, apperrors.ErrInvalidAPIKey.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal, true)))
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), budget.AnonymousPrincipal, false)))
	})
}

func (m *PrincipalResolver) principalFromToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}

	if exp, ok := claims["exp"].(float64); ok {
		if time.Now().Unix() > int64(exp) {
			return "", false
		}
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, true
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, true
	}
	return "", false
}

// principalFromAPIKey verifies the presented key against the configured
// digests and derives a stable principal identifier from its digest, so
// the raw key never becomes a ledger key.
func (m *PrincipalResolver) principalFromAPIKey(key string) (string, error) {
	h := hashKey(key)
	for stored := range m.keyHashes {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(h)) == 1 {
			return "apikey:" + h[:12], nil
		}
	}
	return "", apperrors.ErrInvalidAPIKey
}

func presentedAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func withPrincipal(ctx context.Context, principal string, authenticated bool) context.Context {
	ctx = context.WithValue(ctx, ctxPrincipalKey, principal)
	return context.WithValue(ctx, ctxAuthenticatedKey, authenticated)
}

// PrincipalFromContext returns the principal resolved for this request,
// falling back to the anonymous principal.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ctxPrincipalKey).(string); ok && p != "" {
		return p
	}
	return budget.AnonymousPrincipal
}

// AuthenticatedFromContext reports whether the principal came from a
// verified credential rather than the anonymous fallback.
func AuthenticatedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(ctxAuthenticatedKey).(bool)
	return v
}
