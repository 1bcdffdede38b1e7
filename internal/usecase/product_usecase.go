package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"
)

type ProductUsecase struct {
	tx          repo.TransactionManager
	productRepo repo.ProductRepository
	images      gateway.ImageStore
}

func NewProductUsecase(
	tx repo.TransactionManager,
	productRepo repo.ProductRepository,
	images gateway.ImageStore,
) *ProductUsecase {
	return &ProductUsecase{
		tx:          tx,
		productRepo: productRepo,
		images:      images,
	}
}

// GET /api/products の入力
type ListProductsInput struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *int64
	MaxPrice *int64
	Featured *bool
	Sort     string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "q too long")
	}
	if in.MinPrice != nil && *in.MinPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be >= 0")
	}
	if in.MaxPrice != nil && *in.MaxPrice < 0 {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "max_price must be >= 0")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && *in.MinPrice > *in.MaxPrice {
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "min_price must be <= max_price")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid sort")
	}

	items, total, err := u.productRepo.ListPublic(ctx, repo.ProductListQuery{
		Page:     in.Page,
		Limit:    in.Limit,
		Q:        strings.TrimSpace(in.Q),
		MinPrice: in.MinPrice,
		MaxPrice: in.MaxPrice,
		Featured: in.Featured,
		Sort:     in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, dbError(err)
	}

	return ProductListOutput{
		Items: items,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}

	if !p.IsActive {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return p, nil
}

type AdminProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int64  `json:"stock"`
	IsNew       bool   `json:"is_new"`
	IsFeatured  bool   `json:"is_featured"`
	Discount    int    `json:"discount"`
	IsActive    bool   `json:"is_active"`
}

func validateProductInput(in AdminProductInput) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "required"
	}
	if in.Price < 0 {
		fields["price"] = "must be >= 0"
	}
	if in.Stock < 0 {
		fields["stock"] = "must be >= 0"
	}
	if in.Discount < 0 || in.Discount > 100 {
		fields["discount"] = "must be between 0 and 100"
	}
	if len(fields) > 0 {
		return NewValidationError("invalid product", fields)
	}
	return nil
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, adminUserID int64, in AdminProductInput) (model.Product, error) {
	if adminUserID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if err := validateProductInput(in); err != nil {
		return model.Product{}, err
	}

	now := time.Now()
	p, err := u.productRepo.Create(ctx, model.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURLs:   []string{},
		IsNew:       in.IsNew,
		IsFeatured:  in.IsFeatured,
		Discount:    in.Discount,
		IsActive:    in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return model.Product{}, dbError(err)
	}
	return p, nil
}

// 在庫は AdminUpdateInventory でだけ変える（Stock は無視）
func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, adminUserID int64, productID int64, in AdminProductInput) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	in.Stock = 0
	if err := validateProductInput(in); err != nil {
		return err
	}

	err := u.productRepo.Update(ctx, model.Product{
		ID:          productID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		IsNew:       in.IsNew,
		IsFeatured:  in.IsFeatured,
		Discount:    in.Discount,
		IsActive:    in.IsActive,
		UpdatedAt:   time.Now(),
	})
	if errors.Is(err, repo.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, adminUserID int64, productID int64) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}

	err := u.productRepo.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return dbError(err)
	}
	return nil
}

// AdminUpdateInventory は在庫の上書き＋調整履歴＋監査ログを1トランザクションで
func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, adminUserID int64, productID int64, newStock int64, reason string) error {
	if adminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if newStock < 0 {
		return NewHTTPError(http.StatusBadRequest, "stock must be >= 0")
	}
	if strings.TrimSpace(reason) == "" {
		return NewHTTPError(http.StatusBadRequest, "reason required")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		if err := r.Inventory().SetStock(ctx, productID, newStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusNotFound, "not found")
			}
			return dbError(err)
		}

		now := time.Now()
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			ProductID:   productID,
			AdminUserID: adminUserID,
			Delta:       newStock - p.Stock,
			Reason:      strings.TrimSpace(reason),
			CreatedAt:   now,
		}); err != nil {
			return dbError(err)
		}

		//「誰が」「何を」「どの対象に」「どう変えたか」
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   productID,
			BeforeJSON:   fmt.Sprintf(`{"stock":%d}`, p.Stock),
			AfterJSON:    fmt.Sprintf(`{"stock":%d}`, newStock),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		return nil
	})
}

// ImageUpload はhandlerで検証済みの画像
type ImageUpload struct {
	Key         string
	ContentType string
	Data        []byte
}

// AdminAddImage は画像を保存して商品に追加する。最初の1枚がメイン画像。
func (u *ProductUsecase) AdminAddImage(ctx context.Context, adminUserID int64, productID int64, img ImageUpload) (model.Product, error) {
	if adminUserID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if productID <= 0 {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "invalid product id")
	}
	if len(img.Data) == 0 || img.Key == "" {
		return model.Product{}, NewHTTPError(http.StatusBadRequest, "image required")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, dbError(err)
	}

	url, err := u.images.Put(ctx, img.Key, img.ContentType, img.Data)
	if err != nil {
		return model.Product{}, &HTTPError{Status: http.StatusInternalServerError, Message: "image upload failed", Err: err}
	}

	p.ImageURLs = append(p.ImageURLs, url)
	if p.ImageURL == "" {
		p.ImageURL = url
	}
	if err := u.productRepo.UpdateImages(ctx, productID, p.ImageURL, p.ImageURLs); err != nil {
		return model.Product{}, dbError(err)
	}
	return p, nil
}
