package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims: claims токена консоли мониторинга.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "usage.write": true
	jwt.RegisteredClaims
}

// Scopes консоли.
const (
	ScopeAdmin      = "admin"
	ScopeUsageRead  = "usage.read"
	ScopeUsageWrite = "usage.write"
)

// HasScope: admin разрешает все.
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
