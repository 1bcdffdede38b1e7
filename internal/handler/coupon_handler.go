package handler

import (
	"net/http"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type CouponHandler struct {
	uc *usecase.CouponUsecase
}

func NewCouponHandler(uc *usecase.CouponUsecase) *CouponHandler {
	return &CouponHandler{uc: uc}
}

func (h *CouponHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/coupons/validate", h.validate)

	api.GET("/admin/coupons", h.list, gd.Admin...)
	api.POST("/admin/coupons", h.create, gd.Admin...)
	api.GET("/admin/coupons/:id", h.get, gd.Admin...)
	api.PATCH("/admin/coupons/:id", h.update, gd.Admin...)
	api.DELETE("/admin/coupons/:id", h.delete, gd.Admin...)
}

func (h *CouponHandler) validate(c echo.Context) error {
	var req usecase.ValidateCouponInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Validate(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CouponHandler) list(c echo.Context) error {
	out, err := h.uc.AdminList(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CouponHandler) get(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.AdminGet(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CouponHandler) create(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req usecase.CouponInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.AdminCreate(c.Request().Context(), adminID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *CouponHandler) update(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req usecase.CouponInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.AdminUpdate(c.Request().Context(), adminID, id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CouponHandler) delete(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	if err := h.uc.AdminDelete(c.Request().Context(), adminID, id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}
