package middleware

import (
	"github.com/gin-gonic/gin"
)

// Roles
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

// Permissions
const (
	PermReadStats  = "stats:read"
	PermResetVotes = "votes:reset"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[string]map[string]bool{
	RoleViewer: {
		PermReadStats: true,
	},
	RoleAdmin: {
		PermReadStats:  true,
		PermResetVotes: true,
	},
}

// RequireRole aborts unless the authenticated role is at least requiredRole
func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		checkAccess(c, func(role string) bool {
			return isRoleAtLeast(role, requiredRole)
		})
	}
}

// RequirePermission aborts unless the authenticated role grants permission
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		checkAccess(c, func(role string) bool {
			return hasPermission(role, permission)
		})
	}
}

func checkAccess(c *gin.Context, allowed func(role string) bool) {
	role, ok := GetRole(c)
	if !ok {
		Unauthorized(c, "Authentication required")
		return
	}
	if !allowed(role) {
		Forbidden(c, "Insufficient permissions")
		return
	}
	c.Next()
}

func isRoleAtLeast(role, requiredRole string) bool {
	rank := map[string]int{
		RoleViewer: 1,
		RoleAdmin:  2,
	}
	return rank[role] > 0 && rank[role] >= rank[requiredRole]
}

func hasPermission(role, permission string) bool {
	return RolePermissions[role][permission]
}
