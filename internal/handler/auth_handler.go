package handler

import (
	"net/http"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/middleware"
	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// Guards はルートごとに付けるミドルウェア
type Guards struct {
	Session []echo.MiddlewareFunc
	Admin   []echo.MiddlewareFunc
}

type AuthHandler struct {
	uc           *usecase.AuthUsecase
	cookieSecure bool
}

// DIコンストラクタ
func NewAuthHandler(cfg config.Config, uc *usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{uc: uc, cookieSecure: cfg.CookieSecure}
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)
	api.POST("/auth/logout", h.logout)
	api.POST("/auth/forgot-password", h.forgotPassword)
	api.POST("/auth/reset-password", h.resetPassword)
	api.GET("/auth/me", h.me, gd.Session...)
}

func (h *AuthHandler) register(c echo.Context) error {
	var req usecase.AuthRegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Register(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

// login はトークンを HttpOnly cookie に入れ、本文にも返す
func (h *AuthHandler) login(c echo.Context) error {
	var req usecase.AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Login(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}

	h.setSessionCookie(c, out.Session.Token, out.Session.ExpiresAt)
	return c.JSON(http.StatusOK, out)
}

func (h *AuthHandler) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	return c.JSON(http.StatusOK, SuccessResponse{Message: "logged out"})
}

func (h *AuthHandler) me(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.Me(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AuthHandler) forgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.ForgotPassword(c.Request().Context(), req.Email)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AuthHandler) resetPassword(c echo.Context) error {
	var req usecase.ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.ResetPassword(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AuthHandler) setSessionCookie(c echo.Context, token string, exp time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
	})
}
