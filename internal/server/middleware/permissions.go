package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func IsAdmin(user *AppUser) bool {
	if user == nil {
		return false
	}
	return user.Role == "admin"
}

// CanAccessGroup reports whether user may query the tenant group.
func CanAccessGroup(user *AppUser, group string) bool {
	if user == nil || group == "" {
		return false
	}
	if IsAdmin(user) || HasPermission(user, "group.query:all") {
		return true
	}
	return slices.Contains(user.Groups, group)
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if !HasPermission(user, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}

			return next(c)
		}
	}
}

// RequireGroupAccess rejects requests for a :group the user is not part of.
func RequireGroupAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := c.(*AppContext).User
		if user == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		if !CanAccessGroup(user, c.Param("group")) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "You are not a member of this group"})
		}
		return next(c)
	}
}
