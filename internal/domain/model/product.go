package model

import (
	"time"

	"gorm.io/gorm"
)

type Product struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"type:varchar(255);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Price       int64  `gorm:"not null" json:"price"`
	Stock       int64  `gorm:"not null" json:"stock"`

	ImageURL  string   `gorm:"type:varchar(512)" json:"image_url"`
	ImageURLs []string `gorm:"serializer:json;type:text" json:"image_urls"`

	IsNew      bool `gorm:"not null;default:false" json:"is_new"`
	IsFeatured bool `gorm:"not null;default:false" json:"is_featured"`

	//表示用の割引率（%）
	Discount int `gorm:"not null;default:0" json:"discount"`

	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
