package model

import "time"

type CartStatus string

const (
	CartStatusActive CartStatus = "ACTIVE"
	// 決済承認で空にして閉じる。次の追加で新しいACTIVEを作る
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
	// ゲストから引き継いだとき、引き継ぎ先にACTIVEがあれば元の方はこれ
	CartStatusAbandoned CartStatus = "ABANDONED"
)

type Cart struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"not null;index:idx_carts_user_status,priority:1" json:"user_id"`
	Status    CartStatus `gorm:"type:varchar(20);not null;index:idx_carts_user_status,priority:2" json:"status"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
