// Package mercadopago は Mercado Pago の Payments API を呼ぶ。
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const providerName = "mercadopago"

type Client struct {
	baseURL         string
	accessToken     string
	webhookSecret   string
	notificationURL string
	httpClient      *http.Client
}

func NewClient(cfg config.MercadoPagoConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:     cfg.AccessToken,
		webhookSecret:   cfg.WebhookSecret,
		notificationURL: cfg.NotificationURL,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.accessToken != ""
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type payer struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *identification `json:"identification,omitempty"`
}

type createPaymentBody struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id,omitempty"`
	Token             string      `json:"token,omitempty"`
	Installments      int         `json:"installments,omitempty"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	Payer             payer       `json:"payer"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	PaymentMethodID   string      `json:"payment_method_id"`
	PaymentTypeID     string      `json:"payment_type_id"`
	ExternalReference string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

// centavos -> BRL（小数2桁）
func amountBRL(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

func (c *Client) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (gateway.PaymentResult, error) {
	if !c.Configured() {
		return gateway.PaymentResult{}, gateway.ErrNotConfigured
	}
	if req.AmountCents <= 0 {
		return gateway.PaymentResult{}, fmt.Errorf("mercadopago: amount must be positive")
	}

	body := createPaymentBody{
		TransactionAmount: amountBRL(req.AmountCents),
		Description:       req.Description,
		ExternalReference: strconv.FormatInt(req.OrderID, 10),
		NotificationURL:   c.notificationURL,
		Payer:             buildPayer(req.Payer),
	}

	switch req.Method {
	case gateway.MethodPix:
		body.PaymentMethodID = "pix"
	case gateway.MethodBoleto:
		body.PaymentMethodID = "bolbradesco"
	case gateway.MethodCreditCard:
		if req.CardToken == "" {
			return gateway.PaymentResult{}, fmt.Errorf("mercadopago: card token is required")
		}
		body.Token = req.CardToken
		body.PaymentMethodID = req.CardBrand
		body.Installments = req.Installments
		if body.Installments <= 0 {
			body.Installments = 1
		}
	default:
		return gateway.PaymentResult{}, fmt.Errorf("mercadopago: unsupported method %q", req.Method)
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	var res paymentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments", idemKey, body, &res); err != nil {
		return gateway.PaymentResult{}, err
	}

	out := gateway.PaymentResult{
		Provider:     model.PaymentProviderMercadoPago,
		PaymentID:    res.ID.String(),
		Status:       NormalizeStatus(res.Status),
		RawStatus:    res.Status,
		Method:       req.Method,
		QRCode:       res.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: res.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    res.PointOfInteraction.TransactionData.TicketURL,
	}
	if out.TicketURL == "" {
		out.TicketURL = res.TransactionDetails.ExternalResourceURL
	}
	return out, nil
}

func buildPayer(p gateway.Payer) payer {
	out := payer{Email: p.Email}
	if name := strings.TrimSpace(p.Name); name != "" {
		parts := strings.SplitN(name, " ", 2)
		out.FirstName = parts[0]
		if len(parts) == 2 {
			out.LastName = parts[1]
		}
	}
	if cpf := onlyDigits(p.CPF); cpf != "" {
		out.Identification = &identification{Type: "CPF", Number: cpf}
	}
	return out
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (gateway.PaymentUpdate, error) {
	if !c.Configured() {
		return gateway.PaymentUpdate{}, gateway.ErrNotConfigured
	}
	if paymentID == "" {
		return gateway.PaymentUpdate{}, fmt.Errorf("mercadopago: empty payment id")
	}

	var res paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, "", nil, &res); err != nil {
		return gateway.PaymentUpdate{}, err
	}

	orderID, err := strconv.ParseInt(res.ExternalReference, 10, 64)
	if err != nil {
		return gateway.PaymentUpdate{}, fmt.Errorf("mercadopago: payment %s has no order reference", paymentID)
	}

	method := res.PaymentTypeID
	switch res.PaymentMethodID {
	case "pix":
		method = gateway.MethodPix
	case "bolbradesco", "pec":
		method = gateway.MethodBoleto
	}
	if res.PaymentTypeID == "credit_card" {
		method = gateway.MethodCreditCard
	}

	return gateway.PaymentUpdate{
		Provider:  model.PaymentProviderMercadoPago,
		PaymentID: res.ID.String(),
		OrderID:   orderID,
		Status:    NormalizeStatus(res.Status),
		RawStatus: res.Status,
		Method:    method,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, in interface{}, out interface{}) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mercadopago: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("mercadopago: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mercadopago: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mercadopago: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &gateway.ProviderError{Provider: providerName, Op: method + " " + path, Status: resp.StatusCode, Body: string(raw)}
		if isCredentialError(resp.StatusCode, raw) {
			return errors.Join(gateway.ErrInvalidCredentials, perr)
		}
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mercadopago: decode response: %w", err)
	}
	return nil
}

func isCredentialError(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "invalid access token") || strings.Contains(lower, "invalid_token")
}

// NormalizeStatus は MP の status を共通の決済状態へ
func NormalizeStatus(raw string) string {
	switch raw {
	case "approved":
		return model.PaymentStatusApproved
	case "rejected":
		return model.PaymentStatusFailed
	case "cancelled", "refunded", "charged_back":
		return model.PaymentStatusCancelled
	default:
		//pending, in_process, authorized, in_mediation
		return model.PaymentStatusPending
	}
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
