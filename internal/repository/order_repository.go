package repository

import (
	"context"
	"time"

	"brickshop/internal/domain/model"
)

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	//行ロック付き（Tx内で使う）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	//(user_id, idempotency_key) が重複したら ErrDuplicate
	Create(ctx context.Context, order model.Order) (int64, error)

	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error

	//全項目保存
	Save(ctx context.Context, order *model.Order) error

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)

	//since以降に同じカート内容で作られた注文
	FindRecentByFingerprint(ctx context.Context, userID int64, fingerprint string, since time.Time) (model.Order, bool, error)

	FindByPaymentID(ctx context.Context, provider model.PaymentProvider, paymentID string) (model.Order, bool, error)

	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)

	ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error)
	ReassignByID(ctx context.Context, orderID, toUserID int64) error
}

type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
}
