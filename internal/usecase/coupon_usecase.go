package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type CouponUsecase struct {
	tx      repo.TransactionManager
	coupons repo.CouponRepository
	now     func() time.Time
}

func NewCouponUsecase(tx repo.TransactionManager, coupons repo.CouponRepository) *CouponUsecase {
	return &CouponUsecase{tx: tx, coupons: coupons, now: time.Now}
}

// discount は "10" / 10 / 12.5 のどれでも受ける
type CouponInput struct {
	Code       string          `json:"code"`
	Discount   decimal.Decimal `json:"discount"`
	IsActive   *bool           `json:"is_active"`
	ExpiresAt  *time.Time      `json:"expires_at"`
	UsageLimit int             `json:"usage_limit"`
}

type ValidateCouponInput struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type CouponValidationOutput struct {
	Code           string          `json:"code"`
	Discount       decimal.Decimal `json:"discount"`
	DiscountAmount int64           `json:"discount_amount"`
	Total          int64           `json:"total"`
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateCouponInput(in CouponInput) (string, error) {
	code := normalizeCouponCode(in.Code)

	fields := map[string]string{}
	if code == "" {
		fields["code"] = "required"
	} else if len(code) > 64 {
		fields["code"] = "too long"
	}
	if !in.Discount.IsPositive() || in.Discount.GreaterThan(hundred) {
		fields["discount"] = "must be greater than 0 and at most 100"
	}
	if in.UsageLimit < 0 {
		fields["usage_limit"] = "must be >= 0"
	}
	if len(fields) > 0 {
		return "", NewValidationError("invalid coupon", fields)
	}
	return code, nil
}

func (u *CouponUsecase) AdminList(ctx context.Context) ([]model.Coupon, error) {
	list, err := u.coupons.List(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	return list, nil
}

func (u *CouponUsecase) AdminGet(ctx context.Context, couponID int64) (model.Coupon, error) {
	c, err := u.coupons.FindByID(ctx, couponID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Coupon{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Coupon{}, dbError(err)
	}
	return c, nil
}

func (u *CouponUsecase) AdminCreate(ctx context.Context, adminUserID int64, in CouponInput) (model.Coupon, error) {
	if adminUserID <= 0 {
		return model.Coupon{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	code, err := validateCouponInput(in)
	if err != nil {
		return model.Coupon{}, err
	}

	c := model.Coupon{
		Code:       code,
		Discount:   in.Discount,
		IsActive:   true,
		ExpiresAt:  in.ExpiresAt,
		UsageLimit: in.UsageLimit,
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}

	var created model.Coupon
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		created, err = r.Coupons().Create(ctx, c)
		if errors.Is(err, repo.ErrDuplicate) {
			return NewHTTPError(http.StatusConflict, "coupon code already exists")
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionCreateCoupon,
			ResourceType: model.AuditResourceCoupon,
			ResourceID:   created.ID,
			AfterJSON:    toJSON(created),
			CreatedAt:    u.now(),
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
	if err != nil {
		return model.Coupon{}, err
	}
	return created, nil
}

func (u *CouponUsecase) AdminUpdate(ctx context.Context, adminUserID int64, couponID int64, in CouponInput) (model.Coupon, error) {
	if adminUserID <= 0 {
		return model.Coupon{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if couponID <= 0 {
		return model.Coupon{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	code, err := validateCouponInput(in)
	if err != nil {
		return model.Coupon{}, err
	}

	var out model.Coupon
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Coupons().FindByID(ctx, couponID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		after := before
		after.Code = code
		after.Discount = in.Discount
		after.ExpiresAt = in.ExpiresAt
		after.UsageLimit = in.UsageLimit
		if in.IsActive != nil {
			after.IsActive = *in.IsActive
		}

		if err := r.Coupons().Update(ctx, after); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return NewHTTPError(http.StatusConflict, "coupon code already exists")
			}
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionUpdateCoupon,
			ResourceType: model.AuditResourceCoupon,
			ResourceID:   couponID,
			BeforeJSON:   toJSON(before),
			AfterJSON:    toJSON(after),
			CreatedAt:    u.now(),
		}); err != nil {
			return dbError(err)
		}
		out = after
		return nil
	})
	if err != nil {
		return model.Coupon{}, err
	}
	return out, nil
}

func (u *CouponUsecase) AdminDelete(ctx context.Context, adminUserID int64, couponID int64) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if couponID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Coupons().FindByID(ctx, couponID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.Coupons().Delete(ctx, couponID); err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionDeleteCoupon,
			ResourceType: model.AuditResourceCoupon,
			ResourceID:   couponID,
			BeforeJSON:   toJSON(before),
			CreatedAt:    u.now(),
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
}

// Validate はチェックアウト画面での事前確認（used_count は増やさない）
func (u *CouponUsecase) Validate(ctx context.Context, in ValidateCouponInput) (CouponValidationOutput, error) {
	if in.Subtotal < 0 {
		return CouponValidationOutput{}, NewHTTPError(http.StatusBadRequest, "invalid subtotal")
	}

	c, err := findApplicableCoupon(ctx, u.coupons, in.Code, u.now())
	if err != nil {
		return CouponValidationOutput{}, err
	}

	amount := c.DiscountFor(in.Subtotal)
	return CouponValidationOutput{
		Code:           c.Code,
		Discount:       c.Discount,
		DiscountAmount: amount,
		Total:          in.Subtotal - amount,
	}, nil
}

// 存在・有効・期限・使用上限をまとめて確認
func findApplicableCoupon(ctx context.Context, coupons repo.CouponRepository, code string, now time.Time) (model.Coupon, error) {
	code = normalizeCouponCode(code)
	if code == "" {
		return model.Coupon{}, NewHTTPError(http.StatusBadRequest, "coupon code required")
	}

	c, err := coupons.FindByCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Coupon{}, NewHTTPError(http.StatusNotFound, "coupon not found")
	}
	if err != nil {
		return model.Coupon{}, dbError(err)
	}
	if !c.Applicable(now) {
		return model.Coupon{}, NewHTTPError(http.StatusBadRequest, "coupon is not valid")
	}
	return c, nil
}
