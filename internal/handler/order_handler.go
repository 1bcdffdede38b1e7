package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// IdempotencyKeyHeader は注文作成の冪等キー
const IdempotencyKeyHeader = "X-Idempotency-Key"

// /orders のHTTP（注文者側）
type OrderHandler struct {
	orders   *usecase.OrderUsecase
	payments *usecase.PaymentUsecase
	returns  *usecase.ReturnsUsecase
}

// DI
func NewOrderHandler(orders *usecase.OrderUsecase, payments *usecase.PaymentUsecase, returns *usecase.ReturnsUsecase) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments, returns: returns}
}

func (h *OrderHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/orders", h.placeOrder, gd.Session...)
	api.GET("/orders", h.listMyOrders, gd.Session...)
	api.GET("/orders/:id", h.getMyOrder, gd.Session...)
	api.POST("/orders/:id/payments/mercadopago", h.payMercadoPago, gd.Session...)
	api.POST("/orders/:id/payments/stripe", h.payStripe, gd.Session...)
	api.POST("/orders/:id/return", h.requestReturn, gd.Session...)
	api.GET("/orders/:id/return/label", h.downloadReturnLabel, gd.Session...)
}

func (h *OrderHandler) placeOrder(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req usecase.PlaceOrderInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.IdempotencyKey = strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader))

	out, err := h.orders.PlaceOrder(c.Request().Context(), userID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) listMyOrders(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return badRequest(c, "invalid page")
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return badRequest(c, "invalid limit")
	}

	out, err := h.orders.ListMyOrders(c.Request().Context(), userID, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) getMyOrder(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.orders.GetMyOrderDetail(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) payMercadoPago(c echo.Context) error {
	return h.pay(c, h.payments.CreateMercadoPagoPayment)
}

func (h *OrderHandler) payStripe(c echo.Context) error {
	return h.pay(c, h.payments.CreateStripePayment)
}

type createPaymentFunc func(ctx context.Context, userID, orderID int64, in usecase.CreatePaymentInput) (usecase.PaymentOutput, error)

func (h *OrderHandler) pay(c echo.Context, create createPaymentFunc) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	var req usecase.CreatePaymentInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := create(c.Request().Context(), userID, orderID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) requestReturn(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	var req usecase.ReturnRequestInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.returns.RequestReturn(c.Request().Context(), userID, orderID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// PDFをそのまま返す
func (h *OrderHandler) downloadReturnLabel(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	label, err := h.returns.DownloadLabel(c.Request().Context(), userID, orderID)
	if err != nil {
		return writeError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", label.Filename))
	return c.Blob(http.StatusOK, "application/pdf", label.PDF)
}
