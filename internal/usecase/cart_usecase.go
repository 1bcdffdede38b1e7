package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	repo "brickshop/internal/repository"
)

// CartUsecase は /api/cart の業務ロジック。
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
	}
}

// price は unit_price_snapshot（追加時点の価格）
type CartItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type CartResponse struct {
	Items     []CartItemResponse `json:"items"`
	ItemCount int64              `json:"item_count"`
	Subtotal  int64              `json:"subtotal"`
}

type AddCartInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type UpdateCartItemInput struct {
	Quantity int64 `json:"quantity"`
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, cart.ID)
}

// AddToCart は同一商品なら数量加算。
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.ProductID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	// 公開中のみ
	p, err := u.productRepo.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}
	if !p.IsActive {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "product not found")
	}

	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	var existingQty int64
	for _, it := range items {
		if it.ProductID == in.ProductID {
			existingQty = it.Quantity
			break
		}
	}

	if existingQty+in.Quantity > p.Stock {
		return CartResponse{}, NewHTTPError(http.StatusConflict, fmt.Sprintf("insufficient stock for %q (available: %d)", p.Name, p.Stock))
	}

	if err := u.cartItemRepo.UpsertByCartAndProduct(ctx, cart.ID, in.ProductID, in.Quantity, p.Price); err != nil {
		return CartResponse{}, dbError(err)
	}

	return u.buildCartResponse(ctx, cart.ID)
}

// 数量変更（所有チェック＋在庫チェック）。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Quantity < 1 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	if err := u.checkItemOwner(ctx, userID, cartItemID); err != nil {
		return CartResponse{}, err
	}

	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	p, err := u.productRepo.FindByID(ctx, item.ProductID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
		return CartResponse{}, NewHTTPError(http.StatusNotFound, "product not found")
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}
	if in.Quantity > p.Stock {
		return CartResponse{}, NewHTTPError(http.StatusConflict, fmt.Sprintf("insufficient stock for %q (available: %d)", p.Name, p.Stock))
	}

	if err := u.cartItemRepo.UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, NewHTTPError(http.StatusNotFound, "not found")
		}
		return CartResponse{}, dbError(err)
	}

	return u.GetCart(ctx, userID)
}

func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := u.checkItemOwner(ctx, userID, cartItemID); err != nil {
		return CartResponse{}, err
	}

	if err := u.cartItemRepo.DeleteByID(ctx, cartItemID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CartResponse{}, NewHTTPError(http.StatusNotFound, "not found")
		}
		return CartResponse{}, dbError(err)
	}

	return u.GetCart(ctx, userID)
}

// ClearCart は明細を全部消す（カート自体はACTIVEのまま）
func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.FindActiveByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{Items: []CartItemResponse{}}, nil
	}
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	if err := u.cartRepo.Clear(ctx, cart.ID); err != nil {
		return CartResponse{}, dbError(err)
	}
	return CartResponse{Items: []CartItemResponse{}}, nil
}

func (u *CartUsecase) checkItemOwner(ctx context.Context, userID, cartItemID int64) error {
	owned, err := u.cartItemRepo.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return dbError(err)
	}
	if !owned {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	return nil
}

// cartIDの明細をまとめてCartResponseを作る。非公開になった商品は除く。
func (u *CartUsecase) buildCartResponse(ctx context.Context, cartID int64) (CartResponse, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, dbError(err)
	}

	resp := CartResponse{Items: make([]CartItemResponse, 0, len(items))}

	for _, it := range items {
		p, err := u.productRepo.FindByID(ctx, it.ProductID)
		if err != nil || !p.IsActive {
			continue
		}

		line := it.UnitPriceSnapshot * it.Quantity
		resp.Items = append(resp.Items, CartItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: line,
		})

		resp.ItemCount += it.Quantity
		resp.Subtotal += line
	}

	return resp, nil
}
