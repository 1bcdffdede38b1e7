// Package stripe は stripe-go で PaymentIntent を作り、Webhook を検証する。
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	eventSucceeded = "payment_intent.succeeded"
	eventFailed    = "payment_intent.payment_failed"
	eventCanceled  = "payment_intent.canceled"
)

type Client struct {
	api           *client.API
	configured    bool
	webhookSecret string
}

func NewClient(cfg config.StripeConfig) *Client {
	return newClient(cfg, nil)
}

// backends を差し替える（テストで httptest に向ける）
func newClient(cfg config.StripeConfig, backends *stripego.Backends) *Client {
	return &Client{
		api:           client.New(cfg.SecretKey, backends),
		configured:    cfg.SecretKey != "",
		webhookSecret: cfg.WebhookSecret,
	}
}

func (c *Client) Configured() bool {
	return c.configured
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req gateway.CreatePaymentRequest) (gateway.PaymentResult, error) {
	if !c.configured {
		return gateway.PaymentResult{}, gateway.ErrNotConfigured
	}
	if req.AmountCents <= 0 {
		return gateway.PaymentResult{}, fmt.Errorf("stripe: amount must be positive")
	}

	var methodType string
	switch req.Method {
	case gateway.MethodCreditCard, "card":
		methodType = "card"
	case gateway.MethodBoleto:
		methodType = "boleto"
	default:
		return gateway.PaymentResult{}, fmt.Errorf("stripe: unsupported method %q", req.Method)
	}

	params := &stripego.PaymentIntentParams{
		Amount:             stripego.Int64(req.AmountCents),
		Currency:           stripego.String(string(stripego.CurrencyBRL)),
		PaymentMethodTypes: stripego.StringSlice([]string{methodType}),
	}
	if req.Description != "" {
		params.Description = stripego.String(req.Description)
	}
	if req.Payer.Email != "" {
		params.ReceiptEmail = stripego.String(req.Payer.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", strconv.FormatInt(req.OrderID, 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return gateway.PaymentResult{}, wrapError(err)
	}

	return gateway.PaymentResult{
		Provider:     model.PaymentProviderStripe,
		PaymentID:    pi.ID,
		Status:       intentStatus(pi.Status),
		RawStatus:    string(pi.Status),
		Method:       req.Method,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func wrapError(err error) error {
	var serr *stripego.Error
	if errors.As(err, &serr) {
		perr := &gateway.ProviderError{Provider: "stripe", Op: "create payment_intent", Status: serr.HTTPStatusCode, Body: serr.Msg}
		if serr.HTTPStatusCode == 401 {
			return errors.Join(gateway.ErrInvalidCredentials, perr)
		}
		return perr
	}
	return fmt.Errorf("stripe: create payment_intent: %w", err)
}

func intentStatus(s stripego.PaymentIntentStatus) string {
	switch s {
	case stripego.PaymentIntentStatusSucceeded:
		return model.PaymentStatusApproved
	case stripego.PaymentIntentStatusCanceled:
		return model.PaymentStatusCancelled
	default:
		return model.PaymentStatusPending
	}
}

// ParseWebhook は Stripe-Signature を検証し、PaymentIntent のイベントだけを返す。
func (c *Client) ParseWebhook(req gateway.WebhookRequest) (gateway.PaymentUpdate, bool, error) {
	if c.webhookSecret == "" {
		return gateway.PaymentUpdate{}, false, gateway.ErrNotConfigured
	}

	sig := req.Header.Get("Stripe-Signature")
	if sig == "" {
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: missing Stripe-Signature", gateway.ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(req.Body, sig, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
		}
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}

	var status string
	switch string(event.Type) {
	case eventSucceeded:
		status = model.PaymentStatusApproved
	case eventFailed:
		status = model.PaymentStatusFailed
	case eventCanceled:
		status = model.PaymentStatusCancelled
	default:
		return gateway.PaymentUpdate{EventID: event.ID, EventType: string(event.Type)}, true, nil
	}

	if event.Data == nil {
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: event has no data", gateway.ErrMalformedWebhook)
	}
	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}
	if pi.ID == "" {
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: missing payment_intent id", gateway.ErrMalformedWebhook)
	}

	orderID, err := strconv.ParseInt(pi.Metadata["order_id"], 10, 64)
	if err != nil {
		return gateway.PaymentUpdate{}, false, fmt.Errorf("%w: missing order_id metadata", gateway.ErrMalformedWebhook)
	}

	method := gateway.MethodCreditCard
	for _, t := range pi.PaymentMethodTypes {
		if t == "boleto" {
			method = gateway.MethodBoleto
		}
	}

	return gateway.PaymentUpdate{
		Provider:  model.PaymentProviderStripe,
		PaymentID: pi.ID,
		OrderID:   orderID,
		Status:    status,
		RawStatus: string(pi.Status),
		Method:    method,
		EventID:   event.ID,
		EventType: string(event.Type),
	}, false, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
