package usecase_test

import (
	"context"
	"strings"
	"testing"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// TxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.Called(ctx)
	return fn(m.Repos)
}

// 使わない repo は nil のまま（呼ばれたら panic）
type TxReposMock struct {
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	inventory  repo.InventoryRepository
	products   repo.ProductRepository
	coupons    repo.CouponRepository
	audits     repo.AuditLogRepository
}

func (r *TxReposMock) Orders() repo.OrderRepository               { return r.orders }
func (r *TxReposMock) OrderItems() repo.OrderItemRepository       { return r.orderItems }
func (r *TxReposMock) Carts() repo.CartRepository                 { return nil }
func (r *TxReposMock) CartItems() repo.CartItemRepository         { return nil }
func (r *TxReposMock) Inventory() repo.InventoryRepository        { return r.inventory }
func (r *TxReposMock) Products() repo.ProductRepository           { return r.products }
func (r *TxReposMock) Users() repo.UserRepository                 { return nil }
func (r *TxReposMock) Addresses() repo.AddressRepository          { return nil }
func (r *TxReposMock) Coupons() repo.CouponRepository             { return r.coupons }
func (r *TxReposMock) Shipments() repo.ShipmentRepository         { return nil }
func (r *TxReposMock) WebhookEvents() repo.WebhookEventRepository { return nil }
func (r *TxReposMock) AuditLogs() repo.AuditLogRepository         { return r.audits }

// =====================
// Repository mocks
// 埋め込んだ interface は nil。テストで使うメソッドだけ実装する
// =====================

type OrderRepoMock struct {
	mock.Mock
	repo.OrderRepository
}

func (m *OrderRepoMock) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) Save(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *OrderRepoMock) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	args := m.Called(ctx, f)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

type OrderItemRepoMock struct {
	mock.Mock
	repo.OrderItemRepository
}

func (m *OrderItemRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

type InventoryRepoMock struct {
	mock.Mock
	repo.InventoryRepository
}

func (m *InventoryRepoMock) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *InventoryRepoMock) SetStock(ctx context.Context, productID int64, newStock int64) error {
	args := m.Called(ctx, productID, newStock)
	return args.Error(0)
}

func (m *InventoryRepoMock) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	args := m.Called(ctx, adj)
	return args.Error(0)
}

type ProductRepoMock struct {
	mock.Mock
}

func (m *ProductRepoMock) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	args := m.Called(ctx, q)
	items, _ := args.Get(0).([]model.Product)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *ProductRepoMock) FindByID(ctx context.Context, productID int64) (model.Product, error) {
	args := m.Called(ctx, productID)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

func (m *ProductRepoMock) Create(ctx context.Context, p model.Product) (model.Product, error) {
	args := m.Called(ctx, p)
	created, _ := args.Get(0).(model.Product)
	return created, args.Error(1)
}

func (m *ProductRepoMock) Update(ctx context.Context, p model.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ProductRepoMock) UpdateImages(ctx context.Context, productID int64, imageURL string, imageURLs []string) error {
	args := m.Called(ctx, productID, imageURL, imageURLs)
	return args.Error(0)
}

func (m *ProductRepoMock) SoftDelete(ctx context.Context, productID int64) error {
	args := m.Called(ctx, productID)
	return args.Error(0)
}

type ImageStoreMock struct {
	mock.Mock
}

func (m *ImageStoreMock) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}

type AuditRepoMock struct {
	mock.Mock
}

func (m *AuditRepoMock) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *AuditRepoMock) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]model.AuditLog)
	return logs, args.Error(1)
}

type CouponRepoMock struct {
	mock.Mock
	repo.CouponRepository
}

func (m *CouponRepoMock) Create(ctx context.Context, c model.Coupon) (model.Coupon, error) {
	args := m.Called(ctx, c)
	out, _ := args.Get(0).(model.Coupon)
	return out, args.Error(1)
}

func (m *CouponRepoMock) FindByCode(ctx context.Context, code string) (model.Coupon, error) {
	args := m.Called(ctx, code)
	out, _ := args.Get(0).(model.Coupon)
	return out, args.Error(1)
}

// =====================
// Helper
// =====================

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}
