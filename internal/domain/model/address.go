package model

import "time"

// 配送先住所
type Address struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//宛名
	RecipientName string `gorm:"type:varchar(255);not null" json:"recipient_name"`

	//CEP（数字8桁）
	CEP string `gorm:"column:cep;type:varchar(9);not null" json:"cep"`

	Street       string `gorm:"type:varchar(255);not null" json:"street"`
	Number       string `gorm:"type:varchar(20);not null" json:"number"`
	Complement   string `gorm:"type:varchar(255)" json:"complement"`
	Neighborhood string `gorm:"type:varchar(255);not null" json:"neighborhood"`
	City         string `gorm:"type:varchar(255);not null" json:"city"`

	//UF
	State string `gorm:"type:varchar(2);not null" json:"state"`

	Phone string `gorm:"type:varchar(30)" json:"phone"`

	//このユーザーのデフォルト住所か
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// SameDestination は配送先として同一か（重複作成の判定用）
func (a Address) SameDestination(b Address) bool {
	return a.RecipientName == b.RecipientName &&
		a.CEP == b.CEP &&
		a.Street == b.Street &&
		a.Number == b.Number &&
		a.Complement == b.Complement &&
		a.Neighborhood == b.Neighborhood &&
		a.City == b.City &&
		a.State == b.State
}
