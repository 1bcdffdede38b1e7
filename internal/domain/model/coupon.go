package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// クーポン（割引率は 0 < discount <= 100）
type Coupon struct {
	ID       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code     string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Discount decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"discount"`
	IsActive bool            `gorm:"not null;default:true" json:"is_active"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	//0は無制限
	UsageLimit int `gorm:"not null;default:0" json:"usage_limit"`
	UsedCount  int `gorm:"not null;default:0" json:"used_count"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// Applicable は now 時点で使えるか
func (c Coupon) Applicable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false
	}
	return true
}

// DiscountFor は小計(centavos)に対する割引額を返す（切り捨て）
func (c Coupon) DiscountFor(subtotal int64) int64 {
	amount := decimal.NewFromInt(subtotal).Mul(c.Discount).Div(decimal.NewFromInt(100)).Floor()
	return amount.IntPart()
}
