package repository

import (
	"context"

	"brickshop/internal/domain/model"
)

type CartRepository interface {
	GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error
	Clear(ctx context.Context, cartID int64) error

	//カートごと所有者を付け替える（明細は cart_id 経由で付いてくる）
	ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error)
}

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 同一商品はプラス
	UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64, unitPriceSnapshot int64) error
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error)
}
