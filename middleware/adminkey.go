package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/frogbytes/frogbytes/errors"
)

// AdminKeyHeader carries the shared administrator secret.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey returns echo middleware that rejects requests whose
// AdminKeyHeader does not match configuredKey. The configured value may
// be either the plain secret or a bcrypt hash of it; hashes are detected
// by their "$2" prefix. Rejection happens before any other processing.
func AdminKey(configuredKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if configuredKey == "" {
				// No key configured means the admin surface is
				// disabled entirely.
				return unauthorized(c)
			}

			provided := c.Request().Header.Get(AdminKeyHeader)
			if provided == "" {
				return unauthorized(c)
			}

			if strings.HasPrefix(configuredKey, "$2") {
				if bcrypt.CompareHashAndPassword([]byte(configuredKey), []byte(provided)) != nil {
					return unauthorized(c)
				}
			} else if subtle.ConstantTimeCompare([]byte(configuredKey), []byte(provided)) != 1 {
				return unauthorized(c)
			}

			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	err := apperrors.NewAuthentication("admin key missing or invalid")
	apperrors.LogError(err, map[string]any{
		"path": c.Request().URL.Path,
		"ip":   c.RealIP(),
	})
	return c.JSON(http.StatusUnauthorized, echo.Map{
		"success": false,
		"error":   apperrors.SafeMessage(err),
	})
}
