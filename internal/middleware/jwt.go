package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/iliyamo/account-service/internal/auth"
)

// ClaimsKey is the context key under which JWTAuth stores the verified
// token claims for downstream handlers.
const ClaimsKey = "claims"

// JWTAuth returns an Echo middleware that validates a Bearer session
// token and injects its claims into the request context. Verification
// is purely cryptographic here; handlers re-resolve the claims against
// the identity store inside their own transaction, so a token minted
// for a since-deleted identity still fails every privileged operation.
func JWTAuth(tokens *auth.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims, err := tokens.Verify(raw)
			if err != nil {
				// Expired and malformed tokens get distinct messages so
				// clients can prompt for re-login versus rejecting outright.
				if auth.KindOf(err) == auth.KindTokenExpired {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has expired"})
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
			}
			if claims.Use != auth.UseAccess {
				// Reset tokens must not open sessions.
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
			}

			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}
