package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/auth"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the account lifecycle routes. Routes under
// /v1/auth establish or recover a session and carry no JWT middleware;
// routes under /v1 require a valid session token. The rate limiter
// wraps the unauthenticated group so credential and token guessing is
// throttled.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens *auth.TokenService, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// The verification link from the email embeds the token in the path.
	g.GET("/verify/:token", a.VerifyAccount)
	g.POST("/forgot-password", a.ForgotPassword)
	// Reset carries its one-time token in the Authorization header.
	g.POST("/reset-password", a.ResetPassword)

	s := e.Group("/v1")
	s.Use(middleware.JWTAuth(tokens))
	s.GET("/session", a.KeepSession)
	s.PATCH("/username", a.ChangeUsername)
	s.PATCH("/email", a.ChangeEmail)
	s.PATCH("/phone", a.ChangePhone)
	s.PATCH("/password", a.ChangePassword)
}
