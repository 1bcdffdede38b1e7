package repository

import (
	"brickshop/internal/domain/model"
	"context"
)

// 住所(Address)を保存・取得する窓口
type AddressRepository interface {
	Create(ctx context.Context, address model.Address) (model.Address, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Address, error)
	FindByID(ctx context.Context, addressID int64) (model.Address, error)

	//デフォルト住所（無ければ ErrNotFound）
	FindDefault(ctx context.Context, userID int64) (model.Address, error)

	//同じ配送先が既にあるか
	FindSame(ctx context.Context, userID int64, address model.Address) (model.Address, bool, error)

	Update(ctx context.Context, address model.Address) error
	Delete(ctx context.Context, addressID int64) error
	IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error)

	//user内でdefaultは1つ
	SetDefault(ctx context.Context, userID, addressID int64) error

	//所有者の付け替え（ゲスト注文の引き継ぎ）
	ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error)
	ReassignByID(ctx context.Context, addressID, toUserID int64) error
}
