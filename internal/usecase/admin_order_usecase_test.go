package usecase_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/logger"
	repo "brickshop/internal/repository"
	"brickshop/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type adminOrderFixture struct {
	tx        *TxManagerMock
	orders    *OrderRepoMock
	items     *OrderItemRepoMock
	inventory *InventoryRepoMock
	audits    *AuditRepoMock
	uc        *usecase.AdminOrderUsecase
}

func newAdminOrderFixture() *adminOrderFixture {
	f := &adminOrderFixture{
		orders:    new(OrderRepoMock),
		items:     new(OrderItemRepoMock),
		inventory: new(InventoryRepoMock),
		audits:    new(AuditRepoMock),
	}
	f.tx = &TxManagerMock{Repos: &TxReposMock{
		orders:     f.orders,
		orderItems: f.items,
		inventory:  f.inventory,
		audits:     f.audits,
	}}
	f.uc = usecase.NewAdminOrderUsecase(f.tx, nil, logger.Discard())
	return f
}

// =====================
// List tests
// =====================

func TestAdminOrderUsecase_List_InvalidPage(t *testing.T) {
	f := newAdminOrderFixture()

	_, err := f.uc.List(context.Background(), repo.AdminOrderListFilter{Page: 0, Limit: 20})

	assertErrContains(t, err, "invalid page")
	f.tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestAdminOrderUsecase_List_InvalidLimit(t *testing.T) {
	f := newAdminOrderFixture()

	_, err := f.uc.List(context.Background(), repo.AdminOrderListFilter{Page: 1, Limit: 101})

	assertErrContains(t, err, "invalid limit")
	f.tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestAdminOrderUsecase_List_InvalidStatus(t *testing.T) {
	f := newAdminOrderFixture()

	_, err := f.uc.List(context.Background(), repo.AdminOrderListFilter{Page: 1, Limit: 20, Status: "lost"})

	assertErrContains(t, err, "invalid status")
}

func TestAdminOrderUsecase_List_OK(t *testing.T) {
	f := newAdminOrderFixture()
	filter := repo.AdminOrderListFilter{Page: 1, Limit: 20, Status: string(model.OrderStatusProcessing)}

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("ListAdmin", mock.Anything, filter).
		Return([]model.Order{{ID: 10, UserID: 1, Status: model.OrderStatusProcessing, Total: 5000}}, int64(1), nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).
		Return([]model.OrderItem{{OrderID: 10, ProductID: 3, Quantity: 2, UnitPriceSnapshot: 2500}}, nil).Once()

	out, err := f.uc.List(context.Background(), filter)

	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Total)
	require.Len(t, out.Items, 1)
	assert.Equal(t, int64(10), out.Items[0].ID)
	require.Len(t, out.Items[0].Items, 1)

	f.orders.AssertExpectations(t)
	f.items.AssertExpectations(t)
}

// =====================
// UpdateStatus tests
// =====================

func TestAdminOrderUsecase_UpdateStatus_UnknownStatus(t *testing.T) {
	f := newAdminOrderFixture()

	_, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "lost"})

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Status)
	assert.Contains(t, he.Fields, "status")
	f.tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_NotFound(t *testing.T) {
	f := newAdminOrderFixture()

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).Return(model.Order{}, repo.ErrNotFound).Once()

	_, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "shipped"})

	assertErrContains(t, err, "not found")
}

func TestAdminOrderUsecase_UpdateStatus_CancelledIsTerminal(t *testing.T) {
	f := newAdminOrderFixture()

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).
		Return(model.Order{ID: 10, Status: model.OrderStatusCancelled}, nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{}, nil).Once()

	_, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "processing"})

	assertErrContains(t, err, "cannot change cancelled order")
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.audits.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newAdminOrderFixture()

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).
		Return(model.Order{ID: 10, Status: model.OrderStatusShipped}, nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{}, nil).Once()

	out, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "SHIPPED"})

	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusShipped), out.Status)
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_CancelPaidOrderRestocks(t *testing.T) {
	f := newAdminOrderFixture()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).
		Return(model.Order{ID: 10, Status: model.OrderStatusProcessing, PaidAt: &paidAt}, nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{
		{OrderID: 10, ProductID: 3, Quantity: 2, UnitPriceSnapshot: 2500},
		{OrderID: 10, ProductID: 4, Quantity: 1, UnitPriceSnapshot: 9900},
	}, nil).Once()
	f.inventory.On("IncreaseStock", mock.Anything, int64(3), int64(2)).Return(nil).Once()
	f.inventory.On("IncreaseStock", mock.Anything, int64(4), int64(1)).Return(nil).Once()
	f.orders.On("Save", mock.Anything, mock.MatchedBy(func(o *model.Order) bool {
		return o.ID == 10 && o.Status == model.OrderStatusCancelled
	})).Return(nil).Once()
	f.audits.On("Create", mock.Anything, mock.MatchedBy(func(l model.AuditLog) bool {
		return l.ActorUserID == 1 &&
			l.Action == model.AuditActionUpdateOrderStatus &&
			l.ResourceType == model.AuditResourceOrder &&
			l.ResourceID == 10
	})).Return(nil).Once()

	out, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "cancelled"})

	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusCancelled), out.Status)
	f.inventory.AssertExpectations(t)
	f.orders.AssertExpectations(t)
	f.audits.AssertExpectations(t)
}

func TestAdminOrderUsecase_UpdateStatus_CancelUnpaidDoesNotRestock(t *testing.T) {
	f := newAdminOrderFixture()

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).
		Return(model.Order{ID: 10, Status: model.OrderStatusPaymentPending}, nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).
		Return([]model.OrderItem{{OrderID: 10, ProductID: 3, Quantity: 2}}, nil).Once()
	f.orders.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.audits.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "cancelled"})

	require.NoError(t, err)
	f.inventory.AssertNotCalled(t, "IncreaseStock", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminOrderUsecase_UpdateStatus_AuditFailureIsDBError(t *testing.T) {
	f := newAdminOrderFixture()

	f.tx.On("WithinTx", mock.Anything).Return(nil).Once()
	f.orders.On("FindByIDForUpdate", mock.Anything, int64(10)).
		Return(model.Order{ID: 10, Status: model.OrderStatusProcessing}, nil).Once()
	f.items.On("ListByOrderID", mock.Anything, int64(10)).Return([]model.OrderItem{}, nil).Once()
	f.orders.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	f.audits.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	_, err := f.uc.UpdateStatus(context.Background(), 1, 10, usecase.AdminUpdateOrderStatusInput{Status: "shipped"})

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, he.Status)
}

// =====================
// AuditLog tests
// =====================

func TestAuditLogUsecase_List_InvalidLimit(t *testing.T) {
	uc := usecase.NewAuditLogUsecase(new(AuditRepoMock))

	_, err := uc.List(context.Background(), repo.AuditLogFilter{Limit: 500})

	assertErrContains(t, err, "invalid limit")
}

func TestAuditLogUsecase_List_PassesFilter(t *testing.T) {
	audits := new(AuditRepoMock)
	uc := usecase.NewAuditLogUsecase(audits)

	action := model.AuditActionApproveReturn
	filter := repo.AuditLogFilter{Action: &action, Limit: 50}
	audits.On("List", mock.Anything, filter).Return([]model.AuditLog{{ID: 1, Action: action}}, nil).Once()

	logs, err := uc.List(context.Background(), filter)

	require.NoError(t, err)
	assert.Len(t, logs, 1)
	audits.AssertExpectations(t)
}
