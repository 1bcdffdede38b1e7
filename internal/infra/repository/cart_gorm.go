package repository

import (
	"context"
	"errors"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errInvalidQuantity = errors.New("invalid quantity")

// CartGormRepository は carts と cart_items の両方を扱う
type CartGormRepository struct {
	db *gorm.DB
}

func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

func activeCartOf(userID int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND status = ?", userID, model.CartStatusActive).Order("id desc")
	}
}

// 更新系で0件なら ErrNotFound
func affectedOne(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CartGormRepository) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Scopes(activeCartOf(userID)).First(&cart).Error
		if !isNotFound(err) {
			return err
		}

		cart = model.Cart{UserID: userID, Status: model.CartStatusActive}
		if err := tx.Create(&cart).Error; err != nil {
			//同時作成に負けた側は相手のカートを使う
			if again := tx.Scopes(activeCartOf(userID)).First(&cart).Error; again == nil {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.Cart{}, translate(err)
	}
	return cart, nil
}

func (r *CartGormRepository) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart
	if err := r.db.WithContext(ctx).Scopes(activeCartOf(userID)).First(&cart).Error; err != nil {
		return model.Cart{}, translate(err)
	}
	return cart, nil
}

func (r *CartGormRepository) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	return affectedOne(r.db.WithContext(ctx).Model(&model.Cart{}).Where("id = ?", cartID).Update("status", status))
}

// Clear は明細だけ消す（カート自体は残す）
func (r *CartGormRepository) Clear(ctx context.Context, cartID int64) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Cart{}).Where("id = ?", cartID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&model.CartItem{}).Error
}

// ReassignUser はゲストのカートを本会員へ移す。
// 本会員に既にACTIVEがあればゲスト側はABANDONEDにして、ACTIVEを1つに保つ。
func (r *CartGormRepository) ReassignUser(ctx context.Context, fromUserID, toUserID int64) (int64, error) {
	var moved int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&model.Cart{}).Scopes(activeCartOf(toUserID)).Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			if err := tx.Model(&model.Cart{}).
				Where("user_id = ? AND status = ?", fromUserID, model.CartStatusActive).
				Update("status", model.CartStatusAbandoned).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&model.Cart{}).Where("user_id = ?", fromUserID).Update("user_id", toUserID)
		moved = res.RowsAffected
		return res.Error
	})
	return moved, err
}

func (r *CartGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	items := []model.CartItem{}
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertByCartAndProduct は同じ商品なら数量を足す。価格スナップショットは最初の行のまま。
func (r *CartGormRepository) UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64, unitPriceSnapshot int64) error {
	if addQty <= 0 {
		return errInvalidQuantity
	}

	item := model.CartItem{
		CartID:            cartID,
		ProductID:         productID,
		Quantity:          addQty,
		UnitPriceSnapshot: unitPriceSnapshot,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&item).Error
}

func (r *CartGormRepository) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	if qty <= 0 {
		return errInvalidQuantity
	}
	return affectedOne(r.db.WithContext(ctx).Model(&model.CartItem{}).Where("id = ?", cartItemID).Update("quantity", qty))
}

func (r *CartGormRepository) DeleteByID(ctx context.Context, cartItemID int64) error {
	return affectedOne(r.db.WithContext(ctx).Delete(&model.CartItem{}, cartItemID))
}

func (r *CartGormRepository) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	var item model.CartItem
	if err := r.db.WithContext(ctx).First(&item, cartItemID).Error; err != nil {
		return model.CartItem{}, translate(err)
	}
	return item, nil
}

// IsOwnedByUser は明細がそのユーザーのカートのものか
func (r *CartGormRepository) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("cart_items.id = ? AND carts.user_id = ?", cartItemID, userID).
		Count(&n).Error
	return n > 0, err
}
