package repository

import (
	"brickshop/internal/domain/model"
	"context"
)

// 一覧検索
type ProductListQuery struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *int64
	MaxPrice *int64
	Featured *bool
	Sort     string
}

type ProductRepository interface {
	ListPublic(ctx context.Context, q ProductListQuery) ([]model.Product, int64, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, p model.Product) error
	UpdateImages(ctx context.Context, id int64, imageURL string, imageURLs []string) error
	SoftDelete(ctx context.Context, id int64) error
}
