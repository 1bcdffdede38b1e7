package repository

import (
	"context"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
)

type couponGormRepository struct {
	db *gorm.DB
}

func NewCouponGormRepository(db *gorm.DB) repo.CouponRepository {
	return &couponGormRepository{db: db}
}

func (r *couponGormRepository) Create(ctx context.Context, c model.Coupon) (model.Coupon, error) {
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return model.Coupon{}, translate(err)
	}
	return c, nil
}

func (r *couponGormRepository) Update(ctx context.Context, c model.Coupon) error {
	res := r.db.WithContext(ctx).Model(&model.Coupon{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"code":        c.Code,
		"discount":    c.Discount,
		"is_active":   c.IsActive,
		"expires_at":  c.ExpiresAt,
		"usage_limit": c.UsageLimit,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *couponGormRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&model.Coupon{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *couponGormRepository) FindByID(ctx context.Context, id int64) (model.Coupon, error) {
	var c model.Coupon
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return model.Coupon{}, translate(err)
	}
	return c, nil
}

func (r *couponGormRepository) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	var c model.Coupon
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&c).Error; err != nil {
		return model.Coupon{}, translate(err)
	}
	return c, nil
}

func (r *couponGormRepository) List(ctx context.Context) ([]model.Coupon, error) {
	var list []model.Coupon
	if err := r.db.WithContext(ctx).Order("id desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// 上限0は無制限
func (r *couponGormRepository) IncrementUsage(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("id = ? AND (usage_limit = 0 OR used_count < usage_limit)", id).
		UpdateColumn("used_count", gorm.Expr("used_count + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
