package handler

import (
	"context"
	"io"
	"net/http"

	"brickshop/internal/gateway"
	"brickshop/internal/middleware"
	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// Webhook 本文の上限
const maxWebhookBody = 1 << 20

// /webhooks は署名検証のため生の本文を usecase に渡す
type WebhookHandler struct {
	rc *usecase.Reconciler
}

func NewWebhookHandler(rc *usecase.Reconciler) *WebhookHandler {
	return &WebhookHandler{rc: rc}
}

func (h *WebhookHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/webhooks/mercadopago", h.handle("mercadopago", h.rc.HandleMercadoPagoWebhook))
	api.POST("/webhooks/stripe", h.handle("stripe", h.rc.HandleStripeWebhook))
	api.POST("/webhooks/melhorenvio", h.handle("melhorenvio", h.rc.HandleMelhorEnvioWebhook))
}

type webhookFunc func(ctx context.Context, req gateway.WebhookRequest) (usecase.ReconcileResult, error)

func (h *WebhookHandler) handle(provider string, fn webhookFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return badRequest(c, "invalid body")
		}

		out, err := fn(c.Request().Context(), gateway.WebhookRequest{
			Body:   body,
			Header: c.Request().Header,
			Query:  c.QueryParams(),
		})
		if err != nil {
			status := usecase.WebhookStatus(err)
			middleware.Logger(c).WithError(err).WithField("provider", provider).WithField("status", status).Warn("webhook not processed")
			msg := err.Error()
			if status >= http.StatusInternalServerError && hideInternal {
				msg = "internal error"
			}
			return c.JSON(status, ErrorResponse{Error: msg})
		}

		return c.JSON(http.StatusOK, out)
	}
}
