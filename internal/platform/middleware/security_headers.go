package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers expected of a JSON API that
// returns patient data. Nothing this service serves is meant to be rendered,
// framed or cached by a browser, so every header takes its strictest value.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// Responses are always JSON; never let a browser guess otherwise.
			h.Set("X-Content-Type-Options", "nosniff")

			// No page of ours may be framed.
			h.Set("X-Frame-Options", "DENY")

			// Deny all resource loading and frame embedding. Older browsers
			// ignore frame-ancestors, hence X-Frame-Options above.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			// HTTPS only, for a year, subdomains included.
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")

			// Appointment URLs carry ids; keep them out of Referer.
			h.Set("Referrer-Policy", "no-referrer")

			// Appointment payloads carry contact details and must not sit in
			// shared or browser caches.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
