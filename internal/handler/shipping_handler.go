package handler

import (
	"net/http"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ShippingHandler struct {
	uc *usecase.ShippingUsecase
}

func NewShippingHandler(uc *usecase.ShippingUsecase) *ShippingHandler {
	return &ShippingHandler{uc: uc}
}

func (h *ShippingHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/shipping/quote", h.quote)
	api.GET("/orders/:id/tracking", h.tracking, gd.Session...)

	api.POST("/admin/orders/:id/shipment", h.purchaseLabel, gd.Admin...)
}

func (h *ShippingHandler) quote(c echo.Context) error {
	var req usecase.QuoteInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Quote(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ShippingHandler) tracking(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.uc.Tracking(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ShippingHandler) purchaseLabel(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.uc.PurchaseLabel(c.Request().Context(), adminID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}
