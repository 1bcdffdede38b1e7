package mailer

import (
	"context"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
)

// Notifier はテンプレートを描画して Mailer で送る
type Notifier struct {
	mailer gateway.Mailer
}

func NewNotifier(m gateway.Mailer) *Notifier {
	return &Notifier{mailer: m}
}

func (n *Notifier) OrderConfirmed(ctx context.Context, to string, order model.Order, items []model.OrderItem) error {
	m, err := OrderConfirmation(to, order, items)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, m)
}

func (n *Notifier) ReturnStatusChanged(ctx context.Context, to string, orderID int64, message, reason string) error {
	m, err := ReturnStatus(to, orderID, message, reason)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, m)
}

func (n *Notifier) PasswordReset(ctx context.Context, to, link string) error {
	m, err := PasswordReset(to, link)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, m)
}
