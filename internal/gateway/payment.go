package gateway

import (
	"context"

	"brickshop/internal/domain/model"
)

// 支払い方法
const (
	MethodPix        = "pix"
	MethodBoleto     = "boleto"
	MethodCreditCard = "credit_card"
)

type Payer struct {
	Email string
	Name  string
	CPF   string
}

type CreatePaymentRequest struct {
	OrderID     int64
	AmountCents int64
	Method      string
	Description string
	Payer       Payer
	//カード決済のみ（MPのカードトークン）
	CardToken    string
	CardBrand    string
	Installments int
	//プロバイダ側の二重作成防止
	IdempotencyKey string
}

// 作成結果。Status は正規化済み（model.PaymentStatus*）
type PaymentResult struct {
	Provider     model.PaymentProvider `json:"provider"`
	PaymentID    string                `json:"payment_id"`
	Status       string                `json:"status"`
	RawStatus    string                `json:"raw_status"`
	Method       string                `json:"method"`
	QRCode       string                `json:"qr_code,omitempty"`
	QRCodeBase64 string                `json:"qr_code_base64,omitempty"`
	TicketURL    string                `json:"ticket_url,omitempty"`
	ClientSecret string                `json:"client_secret,omitempty"`
}

// PaymentUpdate はプロバイダ共通の決済状態通知
type PaymentUpdate struct {
	Provider  model.PaymentProvider
	PaymentID string
	OrderID   int64
	Status    string
	RawStatus string
	Method    string
	//Stripeのevent id（重複判定用）。MPは空
	EventID   string
	EventType string
}

// MercadoPagoNotice はMP Webhookから取れる情報（状態は含めない）
type MercadoPagoNotice struct {
	PaymentID string
	Ignored   bool
	Type      string
}

type MercadoPago interface {
	Configured() bool
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentResult, error)
	//IDで取り直す（Webhookの内容は信用しない）
	GetPayment(ctx context.Context, paymentID string) (PaymentUpdate, error)
	ParseWebhook(req WebhookRequest) (MercadoPagoNotice, error)
}

type Stripe interface {
	Configured() bool
	CreatePaymentIntent(ctx context.Context, req CreatePaymentRequest) (PaymentResult, error)
	//署名検証済みのイベントを返す。対象外のイベントは ignored=true
	ParseWebhook(req WebhookRequest) (update PaymentUpdate, ignored bool, err error)
}
