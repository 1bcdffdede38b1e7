package model

import "time"

// CartItem はカート1行。価格は追加した時点の値で、数量を足しても更新しない。
type CartItem struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID            int64     `gorm:"not null;uniqueIndex:ux_cart_items_cart_product,priority:1" json:"cart_id"`
	ProductID         int64     `gorm:"not null;uniqueIndex:ux_cart_items_cart_product,priority:2;index" json:"product_id"`
	Quantity          int64     `gorm:"not null" json:"quantity"`
	UnitPriceSnapshot int64     `gorm:"not null;column:unit_price_snapshot" json:"unit_price_snapshot"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
