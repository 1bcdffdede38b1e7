package gateway

import (
	"context"
	"time"

	"brickshop/internal/domain/model"
)

type CEPAddress struct {
	CEP          string `json:"cep"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type CEPLookup interface {
	Lookup(ctx context.Context, cep string) (CEPAddress, error)
}

type Mail struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// ImageStore は検証済みの画像を保存して公開URLを返す
type ImageStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// 注文イベントの種類
const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventPaid          = "order.paid"
)

type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       int64     `json:"order_id"`
	UserID        int64     `json:"user_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Total         int64     `json:"total"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent) error
	Close() error
}

// Notifier は業務イベントのメール通知（テンプレートはinfra側）
type Notifier interface {
	OrderConfirmed(ctx context.Context, to string, order model.Order, items []model.OrderItem) error
	ReturnStatusChanged(ctx context.Context, to string, orderID int64, message, reason string) error
	PasswordReset(ctx context.Context, to, link string) error
}
