package handler

import (
	"io"
	"net/http"

	"brickshop/internal/infra/storage"
	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// InventoryUpdateRequest は在庫更新の入力です。
type InventoryUpdateRequest struct {
	Stock  int64  `json:"stock"`
	Reason string `json:"reason"`
}

// /admin/products と在庫、画像をまとめる
type AdminProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewAdminProductHandler(uc *usecase.ProductUsecase) *AdminProductHandler {
	return &AdminProductHandler{uc: uc}
}

// adminを登録
func (h *AdminProductHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.POST("/admin/products", h.createProduct, gd.Admin...)
	api.PATCH("/admin/products/:id", h.updateProduct, gd.Admin...)
	api.DELETE("/admin/products/:id", h.deleteProduct, gd.Admin...)
	api.PUT("/admin/products/:id/inventory", h.updateInventory, gd.Admin...)
	api.POST("/admin/products/:id/images", h.uploadImage, gd.Admin...)
}

func (h *AdminProductHandler) createProduct(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req usecase.AdminProductInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	p, err := h.uc.AdminCreateProduct(c.Request().Context(), adminID, req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, p)
}

func (h *AdminProductHandler) updateProduct(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req usecase.AdminProductInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	if err := h.uc.AdminUpdateProduct(c.Request().Context(), adminID, id, req); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

func (h *AdminProductHandler) deleteProduct(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	if err := h.uc.AdminDeleteProduct(c.Request().Context(), adminID, id); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

func (h *AdminProductHandler) updateInventory(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req InventoryUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	if err := h.uc.AdminUpdateInventory(c.Request().Context(), adminID, id, req.Stock, req.Reason); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "stock updated"})
}

// uploadImage は multipart の "image" を受け、中身を見て形式を判定する
func (h *AdminProductHandler) uploadImage(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "image is required")
	}
	if fh.Size > storage.MaxImageSize {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "image exceeds maximum size of 5 MB"})
	}

	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "invalid image")
	}
	defer f.Close()

	//上限+1まで読んで超過を判定
	data, err := io.ReadAll(io.LimitReader(f, storage.MaxImageSize+1))
	if err != nil {
		return badRequest(c, "invalid image")
	}

	ct, ext, err := storage.ValidateImage(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	p, err := h.uc.AdminAddImage(c.Request().Context(), adminID, id, usecase.ImageUpload{
		Key:         storage.ObjectKey(id, ext),
		ContentType: ct,
		Data:        data,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, p)
}
