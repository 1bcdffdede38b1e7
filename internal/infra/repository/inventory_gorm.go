package repository

import (
	"context"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

func (r *InventoryGormRepository) SetStock(ctx context.Context, productID int64, newStock int64) error {
	return r.updateStock(ctx, r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", productID), newStock)
}

// 在庫が足りるときだけ減らす（条件付きUPDATEなので同時実行でもマイナスにならない）
func (r *InventoryGormRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *InventoryGormRepository) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	return r.updateStock(ctx, r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", productID), gorm.Expr("stock + ?", qty))
}

func (r *InventoryGormRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	return r.db.WithContext(ctx).Create(&adj).Error
}

func (r *InventoryGormRepository) updateStock(_ context.Context, q *gorm.DB, value interface{}) error {
	res := q.Update("stock", value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
