package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to order administration endpoints.
const ScopeAdmin = "admin"

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Principal is the caller identity attached to authenticated requests.
// Its ID is the owner recorded on orders.
type Principal struct {
	ID     string
	Name   string
	Scopes []string
}

// PrincipalFromKey builds the request identity for a key.
func PrincipalFromKey(k *APIKeyInfo) *Principal {
	return &Principal{ID: k.ID, Name: k.Name, Scopes: slices.Clone(k.Scopes)}
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

// IsAdmin is shorthand for HasScope(ScopeAdmin).
func (p *Principal) IsAdmin() bool {
	return p.HasScope(ScopeAdmin)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored; the same pepper must be used when seeding and serving.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound for unknown or inactive keys.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
