package handler

import (
	"net/http"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /cartのHTTP
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

// /cart, /cart/items/{id} を登録
func (h *CartHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.GET("/cart", h.getCart, gd.Session...)
	api.DELETE("/cart", h.clearCart, gd.Session...)
	api.POST("/cart/items", h.addToCart, gd.Session...)
	api.PATCH("/cart/items/:id", h.patchItem, gd.Session...)
	api.DELETE("/cart/items/:id", h.deleteItem, gd.Session...)
}

func (h *CartHandler) getCart(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.GetCart(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) addToCart(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req usecase.AddCartInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.AddToCart(c.Request().Context(), userID, req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) patchItem(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	itemID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req usecase.UpdateCartItemInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.UpdateCartItem(c.Request().Context(), userID, itemID, req)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) deleteItem(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	itemID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.DeleteCartItem(c.Request().Context(), userID, itemID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) clearCart(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.ClearCart(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}
