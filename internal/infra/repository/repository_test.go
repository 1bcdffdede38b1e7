package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, r repo.UserRepository, email string, guest bool) *model.User {
	t.Helper()
	u := &model.User{Email: email, IsGuest: guest, PasswordHash: "x", Role: model.RoleCustomer, IsActive: true}
	require.NoError(t, r.Create(context.Background(), u))
	return u
}

func sampleAddress(userID int64) model.Address {
	return model.Address{
		UserID:        userID,
		RecipientName: "Ana Souza",
		CEP:           "01310100",
		Street:        "Av. Paulista",
		Number:        "1000",
		Complement:    "ap 12",
		Neighborhood:  "Bela Vista",
		City:          "São Paulo",
		State:         "SP",
		Phone:         "11999990000",
	}
}

func TestUserGormRepository_GuestAndRealShareEmail(t *testing.T) {
	gdb := newTestDB(t)
	users := NewUserGormRepository(gdb)
	ctx := context.Background()

	real := seedUser(t, users, "ana@example.com", false)
	guest := seedUser(t, users, "ana@example.com", true)
	assert.NotEqual(t, real.ID, guest.ID)

	got, err := users.FindByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, real.ID, got.ID)

	g, err := users.FindGuestByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, guest.ID, g.ID)

	//同じ種類の重複は不可
	err = users.Create(ctx, &model.User{Email: "ana@example.com", PasswordHash: "x", Role: model.RoleCustomer})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	none, err := users.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAddressGormRepository_RoundTripAndDefaultFlip(t *testing.T) {
	gdb := newTestDB(t)
	users := NewUserGormRepository(gdb)
	addrs := NewAddressGormRepository(gdb)
	ctx := context.Background()

	u := seedUser(t, users, "c@example.com", false)

	in := sampleAddress(u.ID)
	in.IsDefault = true
	first, err := addrs.Create(ctx, in)
	require.NoError(t, err)

	got, err := addrs.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.SameDestination(in))
	assert.Equal(t, in.Phone, got.Phone)
	assert.True(t, got.IsDefault)

	second := sampleAddress(u.ID)
	second.Street = "Rua Augusta"
	second.IsDefault = true
	created, err := addrs.Create(ctx, second)
	require.NoError(t, err)

	list, err := addrs.ListByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID)
	assert.True(t, list[0].IsDefault)
	assert.False(t, list[1].IsDefault)

	require.NoError(t, addrs.SetDefault(ctx, u.ID, first.ID))
	def, err := addrs.FindDefault(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)

	same, ok, err := addrs.FindSame(ctx, u.ID, sampleAddress(u.ID))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.ID, same.ID)
}

func TestOrderGormRepository_DuplicateIdempotencyKey(t *testing.T) {
	gdb := newTestDB(t)
	orders := NewOrderGormRepository(gdb)
	ctx := context.Background()

	o := model.Order{UserID: 1, AddressID: 1, Status: model.OrderStatusPaymentPending, Subtotal: 100, Total: 100, IdempotencyKey: "k1"}
	id, err := orders.Create(ctx, o)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = orders.Create(ctx, o)
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	//別ユーザーなら同じキーでもよい
	o.UserID = 2
	_, err = orders.Create(ctx, o)
	require.NoError(t, err)

	found, ok, err := orders.FindByIdempotencyKey(ctx, 1, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found.ID)

	_, ok, err = orders.FindByIdempotencyKey(ctx, 1, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderGormRepository_DuplicateInsideTxKeepsTxUsable(t *testing.T) {
	gdb := newTestDB(t)
	tm := NewTxManagerGorm(gdb)
	ctx := context.Background()

	o := model.Order{UserID: 1, AddressID: 1, Status: model.OrderStatusPaymentPending, IdempotencyKey: "dup"}
	_, err := NewOrderGormRepository(gdb).Create(ctx, o)
	require.NoError(t, err)

	var foundID int64
	err = tm.WithinTx(ctx, func(r repo.TxRepos) error {
		_, err := r.Orders().Create(ctx, o)
		if !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
		existing, _, err := r.Orders().FindByIdempotencyKey(ctx, 1, "dup")
		foundID = existing.ID
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, foundID)
}

func TestOrderGormRepository_FindRecentByFingerprint(t *testing.T) {
	gdb := newTestDB(t)
	orders := NewOrderGormRepository(gdb)
	ctx := context.Background()

	id, err := orders.Create(ctx, model.Order{UserID: 7, Status: model.OrderStatusPaymentPending, IdempotencyKey: "a", CartFingerprint: "fp"})
	require.NoError(t, err)

	got, ok, err := orders.FindRecentByFingerprint(ctx, 7, "fp", time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got.ID)

	_, ok, err = orders.FindRecentByFingerprint(ctx, 7, "fp", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInventoryGormRepository_DecreaseStockIfEnough(t *testing.T) {
	gdb := newTestDB(t)
	products := NewProductGormRepository(gdb)
	inv := NewInventoryGormRepository(gdb)
	ctx := context.Background()

	p, err := products.Create(ctx, model.Product{Name: "Minifig", Price: 4990, Stock: 3, IsActive: true})
	require.NoError(t, err)

	ok, err := inv.DecreaseStockIfEnough(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = inv.DecreaseStockIfEnough(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Stock)

	require.NoError(t, inv.IncreaseStock(ctx, p.ID, 4))
	got, err = products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stock)

	assert.ErrorIs(t, inv.SetStock(ctx, 9999, 1), repo.ErrNotFound)
}

func TestProductGormRepository_ListPublicFilters(t *testing.T) {
	gdb := newTestDB(t)
	products := NewProductGormRepository(gdb)
	ctx := context.Background()

	_, err := products.Create(ctx, model.Product{Name: "Castle Set", Price: 30000, Stock: 1, IsActive: true, IsFeatured: true})
	require.NoError(t, err)
	_, err = products.Create(ctx, model.Product{Name: "Space Minifig", Price: 2000, Stock: 1, IsActive: true})
	require.NoError(t, err)
	_, err = products.Create(ctx, model.Product{Name: "Hidden castle", Price: 100, Stock: 1, IsActive: false})
	require.NoError(t, err)

	list, total, err := products.ListPublic(ctx, repo.ProductListQuery{Page: 1, Limit: 10, Q: "castle"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, "Castle Set", list[0].Name)

	featured := true
	_, total, err = products.ListPublic(ctx, repo.ProductListQuery{Page: 1, Limit: 10, Featured: &featured})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	list, _, err = products.ListPublic(ctx, repo.ProductListQuery{Page: 1, Limit: 10, Sort: "price_asc"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Space Minifig", list[0].Name)

	require.NoError(t, products.UpdateImages(ctx, list[0].ID, "/uploads/a.png", []string{"/uploads/a.png", "/uploads/b.png"}))
	got, err := products.FindByID(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/a.png", "/uploads/b.png"}, got.ImageURLs)
}

func TestCouponGormRepository_IncrementUsageRespectsLimit(t *testing.T) {
	gdb := newTestDB(t)
	coupons := NewCouponGormRepository(gdb)
	ctx := context.Background()

	c, err := coupons.Create(ctx, model.Coupon{Code: "BRICK10", Discount: decimal.NewFromInt(10), IsActive: true, UsageLimit: 1})
	require.NoError(t, err)

	ok, err := coupons.IncrementUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = coupons.IncrementUsage(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = coupons.Create(ctx, model.Coupon{Code: "BRICK10", Discount: decimal.NewFromInt(5), IsActive: true})
	assert.ErrorIs(t, err, repo.ErrDuplicate)

	got, err := coupons.FindByCode(ctx, "BRICK10")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
	assert.True(t, got.Discount.Equal(decimal.NewFromInt(10)))
}

func TestShipmentGormRepository_EventsOrderedByDate(t *testing.T) {
	gdb := newTestDB(t)
	shipments := NewShipmentGormRepository(gdb)
	ctx := context.Background()

	s := &model.Shipment{OrderID: 1, Kind: model.ShipmentKindOutbound, MelhorEnvioID: "me-1", TrackingCode: "BR123"}
	require.NoError(t, shipments.Create(ctx, s))

	//同じ注文の往路は1件
	assert.ErrorIs(t, shipments.Create(ctx, &model.Shipment{OrderID: 1, Kind: model.ShipmentKindOutbound}), repo.ErrDuplicate)
	require.NoError(t, shipments.Create(ctx, &model.Shipment{OrderID: 1, Kind: model.ShipmentKindReturn}))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, shipments.AppendEvent(ctx, model.TrackingEvent{ShipmentID: s.ID, Status: "delivered", Date: base.Add(2 * time.Hour)}))
	require.NoError(t, shipments.AppendEvent(ctx, model.TrackingEvent{ShipmentID: s.ID, Status: "posted", Date: base}))

	events, err := shipments.ListEvents(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "posted", events[0].Status)
	assert.Equal(t, "delivered", events[1].Status)

	//最後の記録は登録順で決まる
	last, err := shipments.LastEvent(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "posted", last.Status)
	_, err = shipments.LastEvent(ctx, s.ID+100)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	byME, err := shipments.FindByMelhorEnvioID(ctx, "me-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, byME.ID)

	_, err = shipments.FindByTrackingCode(ctx, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWebhookEventGormRepository_RecordDedupes(t *testing.T) {
	gdb := newTestDB(t)
	events := NewWebhookEventGormRepository(gdb)
	ctx := context.Background()

	ev := model.WebhookEvent{Provider: "stripe", EventID: "evt_1", EventType: "payment_intent.succeeded"}
	first, err := events.Record(ctx, ev)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := events.Record(ctx, ev)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestGuestReassign_MovesOrdersAddressesCarts(t *testing.T) {
	gdb := newTestDB(t)
	tm := NewTxManagerGorm(gdb)
	users := NewUserGormRepository(gdb)
	ctx := context.Background()

	real := seedUser(t, users, "g@example.com", false)
	guest := seedUser(t, users, "g@example.com", true)

	addr, err := NewAddressGormRepository(gdb).Create(ctx, sampleAddress(guest.ID))
	require.NoError(t, err)
	_, err = NewOrderGormRepository(gdb).Create(ctx, model.Order{UserID: guest.ID, AddressID: addr.ID, Status: model.OrderStatusPaymentPending, IdempotencyKey: "g1"})
	require.NoError(t, err)
	_, err = NewCartGormRepository(gdb).GetOrCreateActiveByUserID(ctx, guest.ID)
	require.NoError(t, err)
	_, err = NewCartGormRepository(gdb).GetOrCreateActiveByUserID(ctx, real.ID)
	require.NoError(t, err)

	var moved int64
	err = tm.WithinTx(ctx, func(r repo.TxRepos) error {
		n, err := r.Orders().ReassignUser(ctx, guest.ID, real.ID)
		if err != nil {
			return err
		}
		moved = n
		if _, err := r.Addresses().ReassignUser(ctx, guest.ID, real.ID); err != nil {
			return err
		}
		_, err = r.Carts().ReassignUser(ctx, guest.ID, real.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	list, _, err := NewOrderGormRepository(gdb).ListByUserID(ctx, real.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	a, err := NewAddressGormRepository(gdb).FindByID(ctx, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, real.ID, a.UserID)

	var active int64
	require.NoError(t, gdb.Model(&model.Cart{}).Where("user_id = ? AND status = ?", real.ID, model.CartStatusActive).Count(&active).Error)
	assert.Equal(t, int64(1), active)
}
