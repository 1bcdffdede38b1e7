package repository

import (
	"brickshop/internal/domain/model"
	"context"
)

// 保存・取得を約束
// Find系は見つからないとき (nil, nil) を返す
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, userID int64) (*model.User, error)

	//本会員（is_guest=false）をメールで取得
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	//ゲストをメール / CPF で取得
	FindGuestByEmail(ctx context.Context, email string) (*model.User, error)
	FindGuestByCPF(ctx context.Context, cpf string) (*model.User, error)

	//同じメールのゲスト全件
	ListGuestsByEmail(ctx context.Context, email string) ([]model.User, error)

	FindByResetTokenHash(ctx context.Context, tokenHash string) (*model.User, error)

	Update(ctx context.Context, user *model.User) error
	IncrementTokenVersion(ctx context.Context, userID int64) error
}
