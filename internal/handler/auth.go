package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/auth"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/model"
)

// AuthHandler bundles dependencies for the account endpoints.
type AuthHandler struct {
	Svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{Svc: svc}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}
type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type changeUsernameReq struct {
	CurrentUsername string `json:"currentUsername"`
	NewUsername     string `json:"newUsername"`
}
type changeEmailReq struct {
	CurrentEmail string `json:"currentEmail"`
	NewEmail     string `json:"newEmail"`
}
type changePhoneReq struct {
	CurrentPhone string `json:"currentPhone"`
	NewPhone     string `json:"newPhone"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}
type forgotPasswordReq struct {
	Email string `json:"email"`
}
type resetPasswordReq struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// identityPart is the sanitized identity representation. It is built
// from the model by hand so the password hash can never ride along.
type identityPart struct {
	ID       uint64     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Phone    string     `json:"phone"`
	Role     model.Role `json:"role"`
	Verified bool       `json:"is_verified"`
}

func sanitize(ident *model.Identity) identityPart {
	return identityPart{
		ID:       ident.ID,
		Username: ident.Username,
		Email:    ident.Email,
		Phone:    ident.Phone,
		Role:     ident.Role,
		Verified: ident.Verification == model.Verified,
	}
}

// Register: create an UNVERIFIED identity and return it with a token.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, token, err := h.Svc.Register(ctx, strings.TrimSpace(req.Username), req.Email, req.Phone, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "register successful",
		"data":    sanitize(ident),
	})
}

// Login: verify credentials and the verification gate, return a fresh token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, token, err := h.Svc.Login(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "login successful",
		"data":    sanitize(ident),
	})
}

// VerifyAccount consumes the token from a verification link.
func (h *AuthHandler) VerifyAccount(c echo.Context) error {
	token := c.Param("token")

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.Svc.VerifyAccount(ctx, token); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account verified successfully"})
}

// KeepSession returns the sanitized identity for the current token.
func (h *AuthHandler) KeepSession(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, err := h.Svc.KeepSession(ctx, claims)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": sanitize(ident)})
}

// ChangeUsername renames the caller and demotes verification.
func (h *AuthHandler) ChangeUsername(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
	}
	var req changeUsernameReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, token, err := h.Svc.ChangeUsername(ctx, claims, req.CurrentUsername, req.NewUsername)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusOK, echo.Map{
		"message":  "username changed",
		"username": ident.Username,
	})
}

// ChangeEmail moves the caller to a new address and demotes verification.
func (h *AuthHandler) ChangeEmail(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
	}
	var req changeEmailReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, token, err := h.Svc.ChangeEmail(ctx, claims, req.CurrentEmail, req.NewEmail)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "email changed",
		"email":   ident.Email,
	})
}

// ChangePhone updates the contact number without touching verification.
func (h *AuthHandler) ChangePhone(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
	}
	var req changePhoneReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	ident, err := h.Svc.ChangePhone(ctx, claims, req.NewPhone)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "phone changed",
		"phone":   ident.Phone,
	})
}

// ChangePassword rotates the password and demotes verification.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	claims, ok := claimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is invalid"})
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	_, token, err := h.Svc.ChangePassword(ctx, claims, req.CurrentPassword, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed successfully"})
}

// ForgotPassword issues a reset token and mails the reset link.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	token, err := h.Svc.ForgotPassword(ctx, req.Email)
	if err != nil {
		return writeError(c, err)
	}
	setBearer(c, token)
	return c.JSON(http.StatusOK, echo.Map{"message": "please check your email"})
}

// ResetPassword consumes the reset token from the Authorization header
// and installs the new password.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
	}
	resetToken := strings.TrimPrefix(header, "Bearer ")

	var req resetPasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := validate(req); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.Svc.ResetPassword(ctx, resetToken, req.Password); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password reset successfully"})
}

// ----- helpers -----

// reqContext bounds every storage interaction for a request.
func reqContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// setBearer places the fresh token on the response, mirroring the
// Authorization request header clients send it back in.
func setBearer(c echo.Context, token string) {
	c.Response().Header().Set("Authorization", "Bearer "+token)
}

func claimsFrom(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(middleware.ClaimsKey).(*auth.Claims)
	return claims, ok
}

// writeError maps an engine error to its HTTP status. Storage and
// hashing faults are logged server-side and answered with a generic
// message so internals never leak.
func writeError(c echo.Context, err error) error {
	var e *auth.Error
	message := "internal server error"
	if errors.As(err, &e) {
		message = e.Message
	}
	switch auth.KindOf(err) {
	case auth.KindValidation, auth.KindIdentityExists, auth.KindEmailExists, auth.KindUnverified:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": message})
	case auth.KindInvalidCredential, auth.KindTokenInvalid, auth.KindTokenExpired:
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": message})
	case auth.KindIdentityNotFound, auth.KindEmailNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"error": message})
	default:
		log.Printf("handler: internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
