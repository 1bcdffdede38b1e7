package repository

import (
	"context"
	"time"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error; err != nil {
		return model.Order{}, translate(err)
	}
	return o, nil
}

// SELECT ... FOR UPDATE（SQLiteでは無視される）
func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&o).Error; err != nil {
		return model.Order{}, translate(err)
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	//同一Tx内で重複しても後続クエリを続けられるよう SAVEPOINT で包む
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&order).Error
	})
	if err != nil {
		return 0, translate(err)
	}
	return order.ID, nil
}

func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("status", status)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *OrderGormRepository) Save(ctx context.Context, order *model.Order) error {
	return translate(r.db.WithContext(ctx).Save(order).Error)
}

func (r *OrderGormRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key))
}

func (r *OrderGormRepository) FindRecentByFingerprint(ctx context.Context, userID int64, fingerprint string, since time.Time) (model.Order, bool, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("user_id = ? AND cart_fingerprint = ? AND created_at >= ?", userID, fingerprint, since).
		Order("id desc"))
}

func (r *OrderGormRepository) FindByPaymentID(ctx context.Context, provider model.PaymentProvider, paymentID string) (model.Order, bool, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("payment_provider = ? AND payment_id = ?", provider, paymentID).
		Order("id desc"))
}

func (r *OrderGormRepository) findOne(_ context.Context, q *gorm.DB) (model.Order, bool, error) {
	var o model.Order
	err := q.First(&o).Error
	if isNotFound(err) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}

	q := r.db.WithContext(ctx).Model(&model.Order{})

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (f.Page - 1) * f.Limit
	if err := q.Order("id desc").Limit(f.Limit).Offset(offset).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", fromUserID).
		Update("user_id", toUserID)
	return res.RowsAffected, translate(res.Error)
}

func (r *OrderGormRepository) ReassignByID(ctx context.Context, orderID, toUserID int64) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("user_id", toUserID)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type OrderItemGormRepository struct {
	db *gorm.DB
}

func NewOrderItemGormRepository(db *gorm.DB) *OrderItemGormRepository {
	return &OrderItemGormRepository{db: db}
}

func (r *OrderItemGormRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *OrderItemGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	var items []model.OrderItem
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&items).Error; err != nil {
		return []model.OrderItem{}, err
	}
	return items, nil
}
