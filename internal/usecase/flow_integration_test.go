package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	"brickshop/internal/infra/db"
	infrarepo "brickshop/internal/infra/repository"
	"brickshop/internal/logger"
	repo "brickshop/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =====================
// fakes
// =====================

type fakeCarrier struct {
	configured bool
	label      gateway.Label
	returnReq  *gateway.PurchaseRequest
	pdf        []byte
	//購入APIの呼び出し中に割り込む処理
	during func()
}

func (c *fakeCarrier) Configured() bool { return c.configured }

func (c *fakeCarrier) Quote(ctx context.Context, req gateway.QuoteRequest) ([]gateway.ServiceOption, error) {
	return []gateway.ServiceOption{{ID: 1, Name: "PAC", PriceCents: 1990, DeliveryDays: 7}}, nil
}

func (c *fakeCarrier) Purchase(ctx context.Context, req gateway.PurchaseRequest) (gateway.Label, error) {
	if c.during != nil {
		c.during()
	}
	return c.label, nil
}

func (c *fakeCarrier) PurchaseReturn(ctx context.Context, req gateway.PurchaseRequest) (gateway.Label, error) {
	c.returnReq = &req
	if c.during != nil {
		c.during()
	}
	return c.label, nil
}

func (c *fakeCarrier) Track(ctx context.Context, id string) (gateway.TrackingInfo, error) {
	return gateway.TrackingInfo{}, nil
}

func (c *fakeCarrier) DownloadLabel(ctx context.Context, url string) ([]byte, error) {
	return c.pdf, nil
}

func (c *fakeCarrier) ParseWebhook(req gateway.WebhookRequest) (gateway.ShipmentNotice, error) {
	return gateway.ShipmentNotice{}, gateway.ErrMalformedWebhook
}

type fakeMercadoPago struct {
	created []gateway.CreatePaymentRequest
}

func (m *fakeMercadoPago) Configured() bool { return true }

func (m *fakeMercadoPago) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (gateway.PaymentResult, error) {
	m.created = append(m.created, req)
	return gateway.PaymentResult{
		Provider:  model.PaymentProviderMercadoPago,
		PaymentID: "mp-1",
		Status:    model.PaymentStatusPending,
		RawStatus: "pending",
		Method:    req.Method,
		QRCode:    "000201",
	}, nil
}

func (m *fakeMercadoPago) GetPayment(ctx context.Context, id string) (gateway.PaymentUpdate, error) {
	return gateway.PaymentUpdate{}, errors.New("not used")
}

func (m *fakeMercadoPago) ParseWebhook(req gateway.WebhookRequest) (gateway.MercadoPagoNotice, error) {
	return gateway.MercadoPagoNotice{}, gateway.ErrMalformedWebhook
}

type fakeNotifier struct {
	confirmed []int64
	returns   []string
}

func (n *fakeNotifier) OrderConfirmed(ctx context.Context, to string, order model.Order, items []model.OrderItem) error {
	n.confirmed = append(n.confirmed, order.ID)
	return nil
}

func (n *fakeNotifier) ReturnStatusChanged(ctx context.Context, to string, orderID int64, message, reason string) error {
	n.returns = append(n.returns, message)
	return nil
}

func (n *fakeNotifier) PasswordReset(ctx context.Context, to, link string) error { return nil }

type fakePublisher struct {
	events []gateway.OrderEvent
}

func (p *fakePublisher) PublishOrderEvent(ctx context.Context, ev gateway.OrderEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count(typ string) int {
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// =====================
// harness
// =====================

type harness struct {
	db         *gorm.DB
	carrier    *fakeCarrier
	mp         *fakeMercadoPago
	notifier   *fakeNotifier
	events     *fakePublisher
	shipping   *ShippingUsecase
	orders     *OrderUsecase
	payments   *PaymentUsecase
	reconciler *Reconciler
	returns    *ReturnsUsecase
	guest      *GuestUsecase
	addresses  *AddressUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	cfg := config.Config{ShippingFlatRateCents: 2500}
	cfg.MelhorEnvio.DefaultServiceID = 1

	tx := infrarepo.NewTxManagerGorm(gdb)
	log := logger.Discard()

	h := &harness{
		db:       gdb,
		carrier:  &fakeCarrier{},
		mp:       &fakeMercadoPago{},
		notifier: &fakeNotifier{},
		events:   &fakePublisher{},
	}
	h.shipping = NewShippingUsecase(tx, h.carrier, cfg, log)
	h.orders = NewOrderUsecase(tx, h.shipping, h.events, log)
	h.reconciler = NewReconciler(ReconcilerDeps{
		Tx:          tx,
		MercadoPago: h.mp,
		Carrier:     h.carrier,
		Shipping:    h.shipping,
		Notifier:    h.notifier,
		Events:      h.events,
		Log:         log,
	})
	h.payments = NewPaymentUsecase(tx, h.mp, nil, h.reconciler, log)
	h.returns = NewReturnsUsecase(tx, h.shipping, h.notifier, log)
	h.guest = NewGuestUsecase(tx, h.orders, h.payments, h.shipping, h.events, log)
	h.addresses = NewAddressUsecase(infrarepo.NewAddressGormRepository(gdb), nil)
	return h
}

func (h *harness) seedUser(t *testing.T, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "x", Role: model.RoleCustomer, IsActive: true}
	require.NoError(t, infrarepo.NewUserGormRepository(h.db).Create(context.Background(), u))
	return u
}

func (h *harness) seedProduct(t *testing.T, name string, price, stock int64) model.Product {
	t.Helper()
	p, err := infrarepo.NewProductGormRepository(h.db).Create(context.Background(), model.Product{
		Name: name, Price: price, Stock: stock, IsActive: true, ImageURLs: []string{},
	})
	require.NoError(t, err)
	return p
}

func (h *harness) seedCart(t *testing.T, userID int64, p model.Product, qty int64) {
	t.Helper()
	ctx := context.Background()
	carts := infrarepo.NewCartGormRepository(h.db)
	cart, err := carts.GetOrCreateActiveByUserID(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, carts.UpsertByCartAndProduct(ctx, cart.ID, p.ID, qty, p.Price))
}

func (h *harness) seedAddress(t *testing.T, userID int64) model.Address {
	t.Helper()
	a, err := infrarepo.NewAddressGormRepository(h.db).Create(context.Background(), model.Address{
		UserID:        userID,
		RecipientName: "Ana Souza",
		CEP:           "01310100",
		Street:        "Av. Paulista",
		Number:        "1000",
		Neighborhood:  "Bela Vista",
		City:          "São Paulo",
		State:         "SP",
		IsDefault:     true,
	})
	require.NoError(t, err)
	return a
}

func (h *harness) order(t *testing.T, id int64) model.Order {
	t.Helper()
	o, err := infrarepo.NewOrderGormRepository(h.db).FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	p, err := infrarepo.NewProductGormRepository(h.db).FindByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

// 注文作成まで
func (h *harness) placedOrder(t *testing.T, email string, qty int64) (*model.User, model.Product, OrderOutput) {
	t.Helper()
	u := h.seedUser(t, email)
	p := h.seedProduct(t, "Minifig Astronauta", 4990, 5)
	h.seedCart(t, u.ID, p, qty)
	h.seedAddress(t, u.ID)

	out, err := h.orders.PlaceOrder(context.Background(), u.ID, PlaceOrderInput{})
	require.NoError(t, err)
	return u, p, out
}

func approve(orderID int64) gateway.PaymentUpdate {
	return gateway.PaymentUpdate{
		Provider:  model.PaymentProviderMercadoPago,
		PaymentID: "123",
		OrderID:   orderID,
		Status:    model.PaymentStatusApproved,
		RawStatus: "approved",
		Method:    gateway.MethodPix,
	}
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := AsHTTPError(err)
	require.True(t, ok, "err=%v", err)
	assert.Equal(t, status, he.Status)
}

// =====================
// order creation
// =====================

func TestOrderUsecase_PlaceOrder_TotalsAndPending(t *testing.T) {
	h := newHarness(t)
	_, p, out := h.placedOrder(t, "a@example.com", 2)

	assert.Equal(t, string(model.OrderStatusPaymentPending), out.Status)
	assert.Equal(t, int64(2*4990), out.Subtotal)
	assert.Equal(t, int64(2500), out.ShippingPrice)
	assert.Equal(t, int64(2*4990+2500), out.Total)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "Minifig Astronauta", out.Items[0].Name)

	//在庫は承認時まで減らない
	assert.Equal(t, int64(5), h.stock(t, p.ID))
	assert.Equal(t, 1, h.events.count(gateway.OrderEventCreated))
}

func TestOrderUsecase_PlaceOrder_InsufficientStock(t *testing.T) {
	h := newHarness(t)
	u := h.seedUser(t, "a@example.com")
	p := h.seedProduct(t, "Castelo", 10000, 1)
	h.seedAddress(t, u.ID)

	//カート追加後に在庫が減った
	h.seedCart(t, u.ID, p, 1)
	require.NoError(t, infrarepo.NewInventoryGormRepository(h.db).SetStock(context.Background(), p.ID, 0))

	_, err := h.orders.PlaceOrder(context.Background(), u.ID, PlaceOrderInput{})
	requireStatus(t, err, http.StatusConflict)
	assert.Contains(t, err.Error(), `insufficient stock for "Castelo" (available: 0)`)
}

func TestOrderUsecase_PlaceOrder_TwiceWithinWindowReturnsSameOrder(t *testing.T) {
	h := newHarness(t)
	u, _, first := h.placedOrder(t, "a@example.com", 1)

	second, err := h.orders.PlaceOrder(context.Background(), u.ID, PlaceOrderInput{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, h.db.Model(&model.Order{}).Where("user_id = ?", u.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOrderUsecase_PlaceOrder_AfterWindowCreatesNewOrder(t *testing.T) {
	h := newHarness(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.orders.now = func() time.Time { return base }

	u, _, first := h.placedOrder(t, "a@example.com", 1)

	h.orders.now = func() time.Time { return base.Add(31 * time.Second) }
	second, err := h.orders.PlaceOrder(context.Background(), u.ID, PlaceOrderInput{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestOrderUsecase_PlaceOrder_SameIdempotencyKeyAfterCartCleared(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "a@example.com")
	p := h.seedProduct(t, "Nave", 15000, 3)
	h.seedCart(t, u.ID, p, 1)
	h.seedAddress(t, u.ID)

	first, err := h.orders.PlaceOrder(ctx, u.ID, PlaceOrderInput{IdempotencyKey: "key-1"})
	require.NoError(t, err)

	_, err = h.reconciler.ApplyPaymentUpdate(ctx, approve(first.ID))
	require.NoError(t, err)

	//カートは空になっているが同じキーなら同じ注文
	again, err := h.orders.PlaceOrder(ctx, u.ID, PlaceOrderInput{IdempotencyKey: "key-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = h.orders.PlaceOrder(ctx, u.ID, PlaceOrderInput{IdempotencyKey: "key-2"})
	requireStatus(t, err, http.StatusBadRequest)
}

func TestOrderUsecase_GetMyOrderDetail_OtherUserIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, _, out := h.placedOrder(t, "a@example.com", 1)
	other := h.seedUser(t, "b@example.com")

	_, err := h.orders.GetMyOrderDetail(context.Background(), other.ID, out.ID)
	requireStatus(t, err, http.StatusNotFound)
}

// =====================
// payment reconciliation
// =====================

func TestReconciler_RedeliveredApprovalDecrementsStockOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, p, out := h.placedOrder(t, "a@example.com", 2)

	res, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, res.Status)
	assert.False(t, res.Duplicate)

	res, err = h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Equal(t, int64(3), h.stock(t, p.ID))
	assert.Equal(t, []int64{out.ID}, h.notifier.confirmed)
	assert.Equal(t, 1, h.events.count(gateway.OrderEventPaid))

	o := h.order(t, out.ID)
	assert.Equal(t, model.PaymentStatusApproved, o.PaymentStatus)
	assert.NotNil(t, o.PaidAt)

	//カートは確定済み
	_, err = infrarepo.NewCartGormRepository(h.db).FindActiveByUserID(ctx, u.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestReconciler_SignedEventIsProcessedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "a@example.com", 1)

	up := gateway.PaymentUpdate{
		Provider:  model.PaymentProviderStripe,
		PaymentID: "pi_1",
		OrderID:   out.ID,
		Status:    model.PaymentStatusFailed,
		EventID:   "evt_1",
		EventType: "payment_intent.payment_failed",
	}
	res, err := h.reconciler.ApplyPaymentUpdate(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaymentIncomplete, res.Status)

	res, err = h.reconciler.ApplyPaymentUpdate(ctx, up)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestReconciler_UnknownOrderIsIgnored(t *testing.T) {
	h := newHarness(t)

	res, err := h.reconciler.ApplyPaymentUpdate(context.Background(), approve(999))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}

func TestReconciler_FailedAfterApprovalKeepsApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "a@example.com", 1)

	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	late := approve(out.ID)
	late.Status = model.PaymentStatusFailed
	res, err := h.reconciler.ApplyPaymentUpdate(ctx, late)
	require.NoError(t, err)
	assert.True(t, res.Rejected)

	o := h.order(t, out.ID)
	assert.Equal(t, model.OrderStatusProcessing, o.Status)
	assert.Equal(t, model.PaymentStatusApproved, o.PaymentStatus)
}

func TestReconciler_CancelAfterApprovalRestocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, p, out := h.placedOrder(t, "a@example.com", 2)

	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(3), h.stock(t, p.ID))

	refund := approve(out.ID)
	refund.Status = model.PaymentStatusCancelled
	res, err := h.reconciler.ApplyPaymentUpdate(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, res.Status)
	assert.Equal(t, int64(5), h.stock(t, p.ID))
}

// 作り直した後に届いた古い支払いの失敗は注文に反映しない
func TestReconciler_SupersededPaymentFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, _, out := h.placedOrder(t, "a@example.com", 1)

	_, err := h.payments.CreateMercadoPagoPayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "pix"})
	require.NoError(t, err)

	old := approve(out.ID)
	old.PaymentID = "mp-0"
	old.Status = model.PaymentStatusFailed
	old.RawStatus = "rejected"
	res, err := h.reconciler.ApplyPaymentUpdate(ctx, old)
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, model.OrderStatusPaymentPending, res.Status)

	o := h.order(t, out.ID)
	assert.Equal(t, model.OrderStatusPaymentPending, o.Status)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, "mp-1", o.PaymentID)

	//現在の支払いの承認はそのまま通る
	cur := approve(out.ID)
	cur.PaymentID = "mp-1"
	res, err = h.reconciler.ApplyPaymentUpdate(ctx, cur)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, res.Status)
}

func TestReconciler_SupersededPaymentApprovalIsAdopted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, p, out := h.placedOrder(t, "a@example.com", 1)

	_, err := h.payments.CreateMercadoPagoPayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "pix"})
	require.NoError(t, err)

	//前のPIXが後から支払われた
	old := approve(out.ID)
	old.PaymentID = "mp-0"
	res, err := h.reconciler.ApplyPaymentUpdate(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, res.Status)
	assert.Equal(t, int64(4), h.stock(t, p.ID))

	o := h.order(t, out.ID)
	assert.Equal(t, "mp-0", o.PaymentID)
	assert.Equal(t, model.PaymentStatusApproved, o.PaymentStatus)

	//置き換えられた側の取消は無視する
	late := approve(out.ID)
	late.PaymentID = "mp-1"
	late.Status = model.PaymentStatusCancelled
	res, err = h.reconciler.ApplyPaymentUpdate(ctx, late)
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, model.OrderStatusProcessing, h.order(t, out.ID).Status)
	assert.Equal(t, int64(4), h.stock(t, p.ID))
}

// 管理者が先に processing にした注文でも、承認時に在庫と支払日時を確定する
func TestReconciler_ApprovalAfterAdminOverrideSettlesStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, p, out := h.placedOrder(t, "a@example.com", 2)
	staff := h.seedUser(t, "staff@example.com")

	admin := NewAdminOrderUsecase(infrarepo.NewTxManagerGorm(h.db), h.events, logger.Discard())
	_, err := admin.UpdateStatus(ctx, staff.ID, out.ID, AdminUpdateOrderStatusInput{Status: "processing"})
	require.NoError(t, err)
	require.Nil(t, h.order(t, out.ID).PaidAt)

	res, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, model.OrderStatusProcessing, res.Status)

	o := h.order(t, out.ID)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, model.PaymentStatusApproved, o.PaymentStatus)
	assert.Equal(t, int64(3), h.stock(t, p.ID))
	assert.Equal(t, []int64{out.ID}, h.notifier.confirmed)
	assert.Equal(t, 1, h.events.count(gateway.OrderEventPaid))

	//その後の取消では戻す
	refund := approve(out.ID)
	refund.Status = model.PaymentStatusCancelled
	res, err = h.reconciler.ApplyPaymentUpdate(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, res.Status)
	assert.Equal(t, int64(5), h.stock(t, p.ID))
}

// =====================
// shipment reconciliation
// =====================

func (h *harness) seedOutbound(t *testing.T, orderID int64, meID string) model.Shipment {
	t.Helper()
	s := model.Shipment{
		OrderID:       orderID,
		Kind:          model.ShipmentKindOutbound,
		MelhorEnvioID: meID,
		ServiceID:     1,
		ServiceName:   "PAC",
		Paid:          true,
	}
	require.NoError(t, infrarepo.NewShipmentGormRepository(h.db).Create(context.Background(), &s))
	return s
}

func TestReconciler_DeliveredBeforePostedEndsDelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	s := h.seedOutbound(t, out.ID, "me-1")

	res, err := h.reconciler.ApplyShipmentUpdate(ctx, gateway.ShipmentNotice{
		Event:         "order.delivered",
		MelhorEnvioID: "me-1",
		Status:        gateway.ShipmentStatusDelivered,
		RawStatus:     "delivered",
		TrackingCode:  "BR123",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, res.Status)

	//遅れて届いた posted は拒否されるがエラーにはならない
	res, err = h.reconciler.ApplyShipmentUpdate(ctx, gateway.ShipmentNotice{
		Event:         "order.posted",
		MelhorEnvioID: "me-1",
		Status:        gateway.ShipmentStatusPosted,
		RawStatus:     "posted",
	})
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, model.OrderStatusDelivered, res.Status)

	o := h.order(t, out.ID)
	assert.Equal(t, model.OrderStatusDelivered, o.Status)
	assert.Equal(t, "BR123", o.ShippingTrackingCode)

	events, err := infrarepo.NewShipmentGormRepository(h.db).ListEvents(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReconciler_ShipmentFallsBackToTrackingCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	s := h.seedOutbound(t, out.ID, "me-1")
	s.TrackingCode = "BR999"
	require.NoError(t, infrarepo.NewShipmentGormRepository(h.db).Save(ctx, &s))

	res, err := h.reconciler.ApplyShipmentUpdate(ctx, gateway.ShipmentNotice{
		MelhorEnvioID: "unknown",
		TrackingCode:  "BR999",
		Status:        gateway.ShipmentStatusPosted,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, res.Status)
}

func TestReconciler_RepeatedShipmentNoticeRecordsOneEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	s := h.seedOutbound(t, out.ID, "me-1")

	posted := gateway.ShipmentNotice{
		Event:         "order.posted",
		MelhorEnvioID: "me-1",
		Status:        gateway.ShipmentStatusPosted,
		RawStatus:     "posted",
		Message:       "Objeto postado",
	}
	for i := 0; i < 2; i++ {
		_, err := h.reconciler.ApplyShipmentUpdate(ctx, posted)
		require.NoError(t, err)
	}

	dated := posted
	dated.Date = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	dated.Message = "Em trânsito"
	dated.Location = "Curitiba/PR"
	for i := 0; i < 2; i++ {
		_, err := h.reconciler.ApplyShipmentUpdate(ctx, dated)
		require.NoError(t, err)
	}

	events, err := infrarepo.NewShipmentGormRepository(h.db).ListEvents(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Objeto postado", events[0].Message)
	assert.Equal(t, "Curitiba/PR", events[1].Location)
	assert.Equal(t, model.OrderStatusShipped, h.order(t, out.ID).Status)
}

func TestReconciler_UnknownShipmentIsIgnored(t *testing.T) {
	h := newHarness(t)

	res, err := h.reconciler.ApplyShipmentUpdate(context.Background(), gateway.ShipmentNotice{
		MelhorEnvioID: "nope",
		Status:        gateway.ShipmentStatusPosted,
	})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
}

// =====================
// returns
// =====================

func TestReturnsUsecase_RequestOnlyFromDelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	_, err = h.returns.RequestReturn(ctx, u.ID, out.ID, ReturnRequestInput{Reason: "peça veio quebrada"})
	requireStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, err.Error(), "wrong status")
	assert.Equal(t, model.OrderStatusProcessing, h.order(t, out.ID).Status)

	require.NoError(t, infrarepo.NewOrderGormRepository(h.db).UpdateStatus(ctx, out.ID, model.OrderStatusDelivered))

	_, err = h.returns.RequestReturn(ctx, u.ID, out.ID, ReturnRequestInput{Reason: "  curto  "})
	requireStatus(t, err, http.StatusBadRequest)

	res, err := h.returns.RequestReturn(ctx, u.ID, out.ID, ReturnRequestInput{Reason: "peça veio quebrada"})
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusReturnRequested), res.Status)

	o := h.order(t, out.ID)
	assert.Equal(t, "peça veio quebrada", o.ReturnReason)
	assert.NotNil(t, o.ReturnRequestedAt)
}

func TestReturnsUsecase_ApproveAndGenerateLabel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.seedUser(t, "admin@example.com")
	u, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	h.seedOutbound(t, out.ID, "me-1")
	require.NoError(t, infrarepo.NewOrderGormRepository(h.db).UpdateStatus(ctx, out.ID, model.OrderStatusDelivered))

	_, err = h.returns.RequestReturn(ctx, u.ID, out.ID, ReturnRequestInput{Reason: "tamanho errado do kit"})
	require.NoError(t, err)

	_, err = h.returns.Reject(ctx, admin.ID, out.ID, ReturnDecisionInput{})
	requireStatus(t, err, http.StatusBadRequest)

	res, err := h.returns.Approve(ctx, admin.ID, out.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusReturnApproved), res.Status)

	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "rev-1", LabelURL: "https://labels/rev-1.pdf", TrackingCode: "RV1"}
	h.carrier.pdf = []byte("%PDF-1.4")

	res, err = h.returns.GenerateLabel(ctx, admin.ID, out.ID)
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusReturnLabelGenerated), res.Status)
	require.NotNil(t, res.Shipment)
	assert.Equal(t, model.ShipmentKindReturn, res.Shipment.Kind)

	//返品は客 → 店
	require.NotNil(t, h.carrier.returnReq)
	assert.Equal(t, "Ana Souza", h.carrier.returnReq.From.Name)
	assert.Equal(t, int64(1), h.carrier.returnReq.ServiceID)

	label, err := h.returns.DownloadLabel(ctx, u.ID, out.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("etiqueta-devolucao-%d.pdf", out.ID), label.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), label.PDF)

	var audits []model.AuditLog
	require.NoError(t, h.db.Where("resource_id = ? AND resource_type = ?", out.ID, model.AuditResourceOrder).Order("id").Find(&audits).Error)
	require.Len(t, audits, 2)
	assert.Equal(t, model.AuditActionApproveReturn, audits[0].Action)
	assert.Equal(t, model.AuditActionReturnLabel, audits[1].Action)

	assert.Len(t, h.notifier.returns, 3)
}

func TestReturnsUsecase_GenerateLabel_ConcurrentPurchaseKeepsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.seedUser(t, "admin@example.com")
	u, _, out := h.placedOrder(t, "a@example.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	h.seedOutbound(t, out.ID, "me-1")
	require.NoError(t, infrarepo.NewOrderGormRepository(h.db).UpdateStatus(ctx, out.ID, model.OrderStatusDelivered))
	_, err = h.returns.RequestReturn(ctx, u.ID, out.ID, ReturnRequestInput{Reason: "tamanho errado do kit"})
	require.NoError(t, err)
	_, err = h.returns.Approve(ctx, admin.ID, out.ID)
	require.NoError(t, err)

	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "rev-2"}
	h.carrier.during = func() {
		rev := model.Shipment{OrderID: out.ID, Kind: model.ShipmentKindReturn, MelhorEnvioID: "rev-1", ServiceID: 1}
		require.NoError(t, infrarepo.NewShipmentGormRepository(h.db).Create(ctx, &rev))
	}

	_, err = h.returns.GenerateLabel(ctx, admin.ID, out.ID)
	requireStatus(t, err, http.StatusConflict)

	s, err := infrarepo.NewShipmentGormRepository(h.db).FindByOrderID(ctx, out.ID, model.ShipmentKindReturn)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", s.MelhorEnvioID)
	assert.Equal(t, model.OrderStatusReturnApproved, h.order(t, out.ID).Status)
}

// =====================
// guest checkout / linking
// =====================

func guestInput(email string, productID int64) GuestCheckoutInput {
	return GuestCheckoutInput{
		Email: email,
		Name:  "Bruno Lima",
		CPF:   "123.456.789-09",
		Address: AddressRequest{
			RecipientName: "Bruno Lima",
			CEP:           "20040-020",
			Street:        "Rua da Assembleia",
			Number:        "10",
			Neighborhood:  "Centro",
			City:          "Rio de Janeiro",
			State:         "rj",
		},
		Items:   []GuestItem{{ProductID: productID, Quantity: 1}},
		Payment: GuestPaymentInput{Provider: "mercadopago", Method: "pix"},
	}
}

func TestGuestUsecase_CheckoutThenLinkAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "Trem", 8000, 10)

	out, err := h.guest.Checkout(ctx, guestInput("Bruno@Example.com ", p.ID))
	require.NoError(t, err)
	assert.Equal(t, "mp-1", out.Payment.PaymentID)
	require.Len(t, h.mp.created, 1)
	assert.Equal(t, "12345678909", h.mp.created[0].Payer.CPF)

	guestOrder := h.order(t, out.Order.ID)
	guest, err := infrarepo.NewUserGormRepository(h.db).FindByID(ctx, guestOrder.UserID)
	require.NoError(t, err)
	require.NotNil(t, guest)
	assert.True(t, guest.IsGuest)
	assert.Equal(t, "bruno@example.com", guest.Email)

	member := h.seedUser(t, "bruno@example.com")

	linked, err := h.guest.LinkAll(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), linked.Linked)

	o := h.order(t, out.Order.ID)
	assert.Equal(t, member.ID, o.UserID)
	addr, err := infrarepo.NewAddressGormRepository(h.db).FindByID(ctx, o.AddressID)
	require.NoError(t, err)
	assert.Equal(t, member.ID, addr.UserID)

	//本会員のメールではゲスト購入できない
	_, err = h.guest.Checkout(ctx, guestInput("bruno@example.com", p.ID))
	requireStatus(t, err, http.StatusConflict)
}

func TestGuestUsecase_LinkOrderRequiresSameEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "Trem", 8000, 10)

	out, err := h.guest.Checkout(ctx, guestInput("carla@example.com", p.ID))
	require.NoError(t, err)

	stranger := h.seedUser(t, "other@example.com")
	_, err = h.guest.LinkOrder(ctx, stranger.ID, out.Order.ID)
	requireStatus(t, err, http.StatusNotFound)

	owner := h.seedUser(t, "carla@example.com")
	res, err := h.guest.LinkOrder(ctx, owner.ID, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Linked)

	o := h.order(t, out.Order.ID)
	assert.Equal(t, owner.ID, o.UserID)
	addr, err := infrarepo.NewAddressGormRepository(h.db).FindByID(ctx, o.AddressID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, addr.UserID)
}

func TestGuestUsecase_ReusesSameAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.seedProduct(t, "Trem", 8000, 10)

	first, err := h.guest.Checkout(ctx, guestInput("dani@example.com", p.ID))
	require.NoError(t, err)

	in := guestInput("dani@example.com", p.ID)
	in.Items[0].Quantity = 2
	second, err := h.guest.Checkout(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.AddressID, second.Order.AddressID)
}

// =====================
// addresses
// =====================

func TestAddressUsecase_RoundTripAndDefaultFlip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "a@example.com")

	req := AddressRequest{
		RecipientName: "Ana Souza",
		CEP:           "01310100",
		Street:        "Av. Paulista",
		Number:        "1000",
		Complement:    "ap 12",
		Neighborhood:  "Bela Vista",
		City:          "São Paulo",
		State:         "SP",
		Phone:         "11999990000",
		IsDefault:     true,
	}
	first, err := h.addresses.Create(ctx, u.ID, req)
	require.NoError(t, err)

	got, err := h.addresses.Get(ctx, u.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, req.RecipientName, got.RecipientName)
	assert.Equal(t, req.CEP, got.CEP)
	assert.Equal(t, req.Street, got.Street)
	assert.Equal(t, req.Number, got.Number)
	assert.Equal(t, req.Complement, got.Complement)
	assert.Equal(t, req.Neighborhood, got.Neighborhood)
	assert.Equal(t, req.City, got.City)
	assert.Equal(t, req.State, got.State)
	assert.Equal(t, req.Phone, got.Phone)
	assert.True(t, got.IsDefault)

	req.Street = "Rua Augusta"
	second, err := h.addresses.Create(ctx, u.ID, req)
	require.NoError(t, err)

	list, err := h.addresses.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	defaults := 0
	for _, a := range list {
		if a.IsDefault {
			defaults++
			assert.Equal(t, second.ID, a.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

// =====================
// shipping labels
// =====================

func TestShippingUsecase_PurchaseLabel_OnlyWhenProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "ana@test.com", 1)
	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "me-1", Protocol: "ORD-1", TrackingCode: "BR123"}

	_, err := h.shipping.PurchaseLabel(ctx, 99, out.ID)
	requireStatus(t, err, http.StatusConflict)

	_, err = h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	s, err := h.shipping.PurchaseLabel(ctx, 99, out.ID)
	require.NoError(t, err)
	assert.Equal(t, "me-1", s.MelhorEnvioID)
	assert.Equal(t, model.ShipmentKindOutbound, s.Kind)
	assert.Equal(t, int64(1), s.ServiceID)

	o := h.order(t, out.ID)
	assert.Equal(t, "me-1", o.MelhorEnvioOrderID)
	assert.Equal(t, "BR123", o.ShippingTrackingCode)

	//二重購入しない
	_, err = h.shipping.PurchaseLabel(ctx, 99, out.ID)
	requireStatus(t, err, http.StatusConflict)
}

// 並行した購入が先に記録したラベルを上書きしない
func TestShippingUsecase_PurchaseLabel_ConcurrentPurchaseKeepsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "ana@test.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "me-2", TrackingCode: "BR2"}
	h.carrier.during = func() {
		h.carrier.during = nil
		first := h.seedOutbound(t, out.ID, "me-1")
		first.TrackingCode = "BR1"
		require.NoError(t, infrarepo.NewShipmentGormRepository(h.db).Save(ctx, &first))
	}

	_, err = h.shipping.PurchaseLabel(ctx, 99, out.ID)
	requireStatus(t, err, http.StatusConflict)

	s, err := infrarepo.NewShipmentGormRepository(h.db).FindByOrderID(ctx, out.ID, model.ShipmentKindOutbound)
	require.NoError(t, err)
	assert.Equal(t, "me-1", s.MelhorEnvioID)
	assert.Equal(t, "BR1", s.TrackingCode)
	assert.Empty(t, h.order(t, out.ID).MelhorEnvioOrderID)

	var n int64
	require.NoError(t, h.db.Model(&model.AuditLog{}).Where("action = ?", model.AuditActionPurchaseShipment).Count(&n).Error)
	assert.Zero(t, n)
}

// 購入中に注文がキャンセルされたらラベルを記録しない
func TestShippingUsecase_PurchaseLabel_CancelledDuringPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "ana@test.com", 1)
	_, err := h.reconciler.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)

	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "me-2"}
	h.carrier.during = func() {
		require.NoError(t, infrarepo.NewOrderGormRepository(h.db).UpdateStatus(ctx, out.ID, model.OrderStatusCancelled))
	}

	_, err = h.shipping.PurchaseLabel(ctx, 99, out.ID)
	requireStatus(t, err, http.StatusConflict)
	assert.Empty(t, h.order(t, out.ID).MelhorEnvioOrderID)
}

func TestShippingUsecase_PurchaseLabel_NotConfigured(t *testing.T) {
	h := newHarness(t)
	_, _, out := h.placedOrder(t, "ana@test.com", 1)

	_, err := h.shipping.PurchaseLabel(context.Background(), 99, out.ID)

	requireStatus(t, err, http.StatusServiceUnavailable)
}

func TestReconciler_AutoPurchaseAfterApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, out := h.placedOrder(t, "ana@test.com", 1)
	h.carrier.configured = true
	h.carrier.label = gateway.Label{MelhorEnvioID: "me-7"}

	auto := NewReconciler(ReconcilerDeps{
		Tx:           infrarepo.NewTxManagerGorm(h.db),
		MercadoPago:  h.mp,
		Carrier:      h.carrier,
		Shipping:     h.shipping,
		Notifier:     h.notifier,
		Events:       h.events,
		Log:          logger.Discard(),
		AutoPurchase: true,
	})

	res, err := auto.ApplyPaymentUpdate(ctx, approve(out.ID))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, res.Status)

	s, err := infrarepo.NewShipmentGormRepository(h.db).FindByOrderID(ctx, out.ID, model.ShipmentKindOutbound)
	require.NoError(t, err)
	assert.Equal(t, "me-7", s.MelhorEnvioID)
	assert.Equal(t, []int64{out.ID}, h.notifier.confirmed)
}

// =====================
// payments
// =====================

func TestPaymentUsecase_CreateMercadoPagoPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, _, out := h.placedOrder(t, "ana@test.com", 2)

	res, err := h.payments.CreateMercadoPagoPayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "PIX"})
	require.NoError(t, err)
	assert.Equal(t, "mp-1", res.Payment.PaymentID)
	assert.Equal(t, string(model.OrderStatusPaymentPending), res.Status)

	require.Len(t, h.mp.created, 1)
	assert.Equal(t, out.Total, h.mp.created[0].AmountCents)
	assert.Equal(t, "ana@test.com", h.mp.created[0].Payer.Email)

	o := h.order(t, out.ID)
	assert.Equal(t, model.PaymentProviderMercadoPago, o.PaymentProvider)
	assert.Equal(t, "mp-1", o.PaymentID)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
}

func TestPaymentUsecase_CreatePayment_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, _, out := h.placedOrder(t, "ana@test.com", 1)
	other := h.seedUser(t, "bruno@test.com")

	_, err := h.payments.CreateMercadoPagoPayment(ctx, other.ID, out.ID, CreatePaymentInput{Method: "pix"})
	requireStatus(t, err, http.StatusNotFound)

	_, err = h.payments.CreateMercadoPagoPayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "credit_card"})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = h.payments.CreateMercadoPagoPayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "bitcoin"})
	requireStatus(t, err, http.StatusBadRequest)

	// stripe は未設定
	_, err = h.payments.CreateStripePayment(ctx, u.ID, out.ID, CreatePaymentInput{Method: "credit_card"})
	requireStatus(t, err, http.StatusServiceUnavailable)

	assert.Empty(t, h.mp.created)
}
