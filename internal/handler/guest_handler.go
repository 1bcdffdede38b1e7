package handler

import (
	"net/http"
	"strings"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// ゲスト購入とアカウントへの紐付け
type GuestHandler struct {
	uc *usecase.GuestUsecase
}

func NewGuestHandler(uc *usecase.GuestUsecase) *GuestHandler {
	return &GuestHandler{uc: uc}
}

func (h *GuestHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/checkout/guest", h.checkout)

	api.POST("/account/link-guest-orders", h.linkAll, gd.Session...)
	api.POST("/account/link-guest-orders/:orderId", h.linkOrder, gd.Session...)
}

func (h *GuestHandler) checkout(c echo.Context) error {
	var req usecase.GuestCheckoutInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.IdempotencyKey = strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader))

	out, err := h.uc.Checkout(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *GuestHandler) linkOrder(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "orderId")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.uc.LinkOrder(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *GuestHandler) linkAll(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.LinkAll(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
