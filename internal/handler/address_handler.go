package handler

import (
	"net/http"

	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 住所とCEP
type AddressHandler struct {
	uc *usecase.AddressUsecase
}

func NewAddressHandler(uc *usecase.AddressUsecase) *AddressHandler {
	return &AddressHandler{uc: uc}
}

func (h *AddressHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.GET("/cep/:cep", h.lookupCEP)

	api.GET("/addresses", h.list, gd.Session...)
	api.POST("/addresses", h.create, gd.Session...)
	api.GET("/addresses/:id", h.get, gd.Session...)
	api.PATCH("/addresses/:id", h.update, gd.Session...)
	api.DELETE("/addresses/:id", h.delete, gd.Session...)
	api.POST("/addresses/:id/default", h.setDefault, gd.Session...)
}

func (h *AddressHandler) list(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.List(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AddressHandler) get(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	out, err := h.uc.Get(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AddressHandler) create(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req usecase.AddressRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Create(c.Request().Context(), userID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *AddressHandler) update(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	var req usecase.AddressRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Update(c.Request().Context(), userID, id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AddressHandler) delete(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	if err := h.uc.Delete(c.Request().Context(), userID, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AddressHandler) setDefault(c echo.Context) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	if err := h.uc.SetDefault(c.Request().Context(), userID, id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "default address updated"})
}

func (h *AddressHandler) lookupCEP(c echo.Context) error {
	out, err := h.uc.LookupCEP(c.Request().Context(), c.Param("cep"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
