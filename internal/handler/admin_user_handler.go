package handler

import (
	"net/http"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminUserHandler struct {
	uc *usecase.AuthUsecase
}

func NewAdminUserHandler(uc *usecase.AuthUsecase) *AdminUserHandler {
	return &AdminUserHandler{uc: uc}
}

// /admin 配下は JWT + token_version一致 + admin限定
func (h *AdminUserHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/admin/users/:id/force-logout", h.ForceLogout, gd.Admin...)
}

// ForceLogout は token_version を上げて既存セッションを全部無効にする
func (h *AdminUserHandler) ForceLogout(c echo.Context) error {
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid user_id")
	}

	res, err := h.uc.ForceLogout(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}
