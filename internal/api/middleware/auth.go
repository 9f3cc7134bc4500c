package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxOperator = "operator"
	CtxRole     = "role"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the operator (token subject) and role in the gin context.
func JWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized)
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxOperator, claims.Subject)
		c.Set(CtxRole, claims.OperatorRole())
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated operator has one of the allowed
// roles. Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...domain.OperatorRole) gin.HandlerFunc {
	allowed := make(map[domain.OperatorRole]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// OperateMiddleware allows only roles that may trigger settlement work.
// Must be placed after JWTMiddleware in the chain.
func OperateMiddleware() gin.HandlerFunc {
	return RoleMiddleware(domain.RoleAdmin, domain.RoleOps)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract operator from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetOperator retrieves the authenticated operator from the gin context.
// Returns "" if the middleware was not applied.
func GetOperator(c *gin.Context) string {
	v, _ := c.Get(CtxOperator)
	s, _ := v.(string)
	return s
}

// GetRole retrieves the authenticated operator's role from the gin context.
func GetRole(c *gin.Context) domain.OperatorRole {
	v, _ := c.Get(CtxRole)
	r, _ := v.(domain.OperatorRole)
	return r
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}
