package repository

import (
	"context"

	"brickshop/internal/domain/model"
)

type CouponRepository interface {
	//code重複は ErrDuplicate
	Create(ctx context.Context, c model.Coupon) (model.Coupon, error)
	Update(ctx context.Context, c model.Coupon) error
	Delete(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (model.Coupon, error)
	FindByCode(ctx context.Context, code string) (model.Coupon, error)
	List(ctx context.Context) ([]model.Coupon, error)

	//使用上限内のときだけ used_count を+1
	IncrementUsage(ctx context.Context, id int64) (bool, error)
}
