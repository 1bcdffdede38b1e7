package handler

import (
	"net/http"
	"strconv"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"
	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 管理: 注文、返品、監査ログ
type AdminOrderHandler struct {
	orders  *usecase.AdminOrderUsecase
	returns *usecase.ReturnsUsecase
	audits  *usecase.AuditLogUsecase
}

func NewAdminOrderHandler(orders *usecase.AdminOrderUsecase, returns *usecase.ReturnsUsecase, audits *usecase.AuditLogUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{orders: orders, returns: returns, audits: audits}
}

func (h *AdminOrderHandler) RegisterRoutes(api *echo.Group, gd Guards) {
	api.GET("/admin/orders", h.list, gd.Admin...)
	api.PATCH("/admin/orders/:id/status", h.updateStatus, gd.Admin...)
	api.POST("/admin/orders/:id/return/approve", h.approveReturn, gd.Admin...)
	api.POST("/admin/orders/:id/return/reject", h.rejectReturn, gd.Admin...)
	api.POST("/admin/orders/:id/return/label", h.generateReturnLabel, gd.Admin...)

	api.GET("/admin/audit-logs", h.auditLogs, gd.Admin...)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return badRequest(c, "invalid page")
	}
	limit, ok := queryInt(c, "limit", 20)
	if !ok {
		return badRequest(c, "invalid limit")
	}

	f := repo.AdminOrderListFilter{
		Page:   page,
		Limit:  limit,
		Status: c.QueryParam("status"),
	}

	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return badRequest(c, "invalid user_id")
		}
		f.UserID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		t, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return badRequest(c, "invalid from")
		}
		f.From = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return badRequest(c, "invalid to")
		}
		f.To = t
	}

	out, err := h.orders.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	var req usecase.AdminUpdateOrderStatusInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.orders.UpdateStatus(c.Request().Context(), adminID, orderID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) approveReturn(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.returns.Approve(c.Request().Context(), adminID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) rejectReturn(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	var req usecase.ReturnDecisionInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.returns.Reject(c.Request().Context(), adminID, orderID, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) generateReturnLabel(c echo.Context) error {
	adminID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid order_id")
	}

	out, err := h.returns.GenerateLabel(c.Request().Context(), adminID, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 監査ログ。フィルタは全部任意
func (h *AdminOrderHandler) auditLogs(c echo.Context) error {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return badRequest(c, "invalid limit")
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		return badRequest(c, "invalid offset")
	}

	f := repo.AuditLogFilter{Limit: limit, Offset: offset}

	if v := c.QueryParam("actor_user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return badRequest(c, "invalid actor_user_id")
		}
		f.ActorUserID = &id
	}
	if v := c.QueryParam("action"); v != "" {
		a := model.AuditAction(v)
		f.Action = &a
	}
	if v := c.QueryParam("resource_type"); v != "" {
		rt := model.AuditResourceType(v)
		f.ResourceType = &rt
	}
	if v := c.QueryParam("resource_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return badRequest(c, "invalid resource_id")
		}
		f.ResourceID = &id
	}
	if v := c.QueryParam("from"); v != "" {
		t, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return badRequest(c, "invalid from")
		}
		f.CreatedFrom = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, ok := usecase.ParseDateTimeRFC3339(v)
		if !ok {
			return badRequest(c, "invalid to")
		}
		f.CreatedTo = t
	}

	out, err := h.audits.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
