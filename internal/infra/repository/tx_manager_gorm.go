package repository

import (
	"context"

	repo "brickshop/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	tx *gorm.DB
}

func (r *txReposGorm) Orders() repo.OrderRepository         { return NewOrderGormRepository(r.tx) }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository { return NewOrderItemGormRepository(r.tx) }
func (r *txReposGorm) Carts() repo.CartRepository           { return NewCartGormRepository(r.tx) }
func (r *txReposGorm) CartItems() repo.CartItemRepository   { return NewCartGormRepository(r.tx) }
func (r *txReposGorm) Inventory() repo.InventoryRepository  { return NewInventoryGormRepository(r.tx) }
func (r *txReposGorm) Products() repo.ProductRepository     { return NewProductGormRepository(r.tx) }
func (r *txReposGorm) Users() repo.UserRepository           { return NewUserGormRepository(r.tx) }
func (r *txReposGorm) Addresses() repo.AddressRepository    { return NewAddressGormRepository(r.tx) }
func (r *txReposGorm) Coupons() repo.CouponRepository       { return NewCouponGormRepository(r.tx) }
func (r *txReposGorm) Shipments() repo.ShipmentRepository   { return NewShipmentGormRepository(r.tx) }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository   { return NewAuditLogGormRepository(r.tx) }
func (r *txReposGorm) WebhookEvents() repo.WebhookEventRepository {
	return NewWebhookEventGormRepository(r.tx)
}

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(&txReposGorm{tx: tx})
	})
}
