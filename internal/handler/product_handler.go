package handler

import (
	"net/http"
	"strconv"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /products の公開API
type ProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewProductHandler(uc *usecase.ProductUsecase) *ProductHandler {
	return &ProductHandler{uc: uc}
}

func (h *ProductHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/products", h.list)
	api.GET("/products/:id", h.detail)
}

func (h *ProductHandler) list(c echo.Context) error {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return badRequest(c, "invalid page")
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return badRequest(c, "invalid limit")
	}

	var minPrice *int64
	if v := c.QueryParam("min_price"); v != "" {
		x, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid min_price")
		}
		minPrice = &x
	}

	var maxPrice *int64
	if v := c.QueryParam("max_price"); v != "" {
		x, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return badRequest(c, "invalid max_price")
		}
		maxPrice = &x
	}

	var featured *bool
	if v := c.QueryParam("featured"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "invalid featured")
		}
		featured = &b
	}

	out, err := h.uc.ListPublicProducts(c.Request().Context(), usecase.ListProductsInput{
		Page:     page,
		Limit:    limit,
		Q:        c.QueryParam("q"),
		MinPrice: minPrice,
		MaxPrice: maxPrice,
		Featured: featured,
		Sort:     c.QueryParam("sort"),
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *ProductHandler) detail(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	p, err := h.uc.GetProductDetail(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, p)
}
