package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether held covers one of required. Admin covers everything.
func HasAnyRole(held []string, required ...string) bool {
	for _, has := range held {
		if has == "admin" {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// PrimaryRole picks the role a caller acts under when a token carries several.
// The first entry of precedence that the caller holds wins.
func PrimaryRole(held []string, precedence ...string) string {
	for _, p := range precedence {
		for _, h := range held {
			if h == p {
				return p
			}
		}
	}
	return ""
}
