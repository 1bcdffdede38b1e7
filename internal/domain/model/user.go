package model

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
	RoleVisitor  Role = "visitor"
)

// ゲストは (email, is_guest) で本会員と別行になる
type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_email_guest" json:"email"`
	IsGuest      bool   `gorm:"not null;default:false;uniqueIndex:idx_users_email_guest" json:"is_guest"`
	PasswordHash string `gorm:"column:password_hash;not null" json:"-"`
	Role         Role   `gorm:"type:varchar(20);not null;default:'customer'" json:"role"`
	Name         string `gorm:"type:varchar(255)" json:"name"`
	CPF          string `gorm:"column:cpf;type:varchar(14);index" json:"cpf"`
	Phone        string `gorm:"type:varchar(30)" json:"phone"`
	TokenVersion int    `gorm:"not null;default:0" json:"token_version"`
	IsActive     bool   `gorm:"not null;default:true" json:"is_active"`

	//パスワード再設定（平文は保存しない）
	ResetTokenHash   string     `gorm:"type:varchar(255);index" json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
