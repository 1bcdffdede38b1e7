package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

// 同じカート内容の再送をまとめる期間
const duplicateWindow = 30 * time.Second

type OrderUsecase struct {
	tx       repo.TransactionManager
	shipping *ShippingUsecase
	events   gateway.EventPublisher
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewOrderUsecase(tx repo.TransactionManager, shipping *ShippingUsecase, events gateway.EventPublisher, log logrus.FieldLogger) *OrderUsecase {
	return &OrderUsecase{tx: tx, shipping: shipping, events: events, log: log, now: time.Now}
}

type PlaceOrderInput struct {
	AddressID         int64  `json:"address_id"`
	CouponCode        string `json:"coupon_code"`
	ShippingServiceID int64  `json:"shipping_service_id"`
	//X-Idempotency-Key（bodyには入れない）
	IdempotencyKey string `json:"-"`
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type OrderOutput struct {
	ID                   int64             `json:"id"`
	UserID               int64             `json:"user_id"`
	AddressID            int64             `json:"address_id"`
	Status               string            `json:"status"`
	StatusCategory       string            `json:"status_category"`
	Subtotal             int64             `json:"subtotal"`
	DiscountAmount       int64             `json:"discount_amount"`
	ShippingPrice        int64             `json:"shipping_price"`
	Total                int64             `json:"total"`
	CouponCode           string            `json:"coupon_code,omitempty"`
	PaymentProvider      string            `json:"payment_provider,omitempty"`
	PaymentMethod        string            `json:"payment_method,omitempty"`
	PaymentStatus        string            `json:"payment_status,omitempty"`
	ShippingService      string            `json:"shipping_service,omitempty"`
	ShippingDeliveryTime int               `json:"shipping_delivery_time,omitempty"`
	ShippingTrackingCode string            `json:"shipping_tracking_code,omitempty"`
	ReturnReason         string            `json:"return_reason,omitempty"`
	PaidAt               *time.Time        `json:"paid_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	Items                []OrderItemOutput `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// 注文の1行。UnitPrice が 0 なら現在の商品価格を使う
type orderLine struct {
	ProductID int64
	Quantity  int64
	UnitPrice int64
}

// placeOrder の入力（カート経由・ゲスト経由で共通）
type placement struct {
	UserID         int64
	AddressID      int64
	Lines          []orderLine
	CouponCode     string
	Shipping       shippingChoice
	IdempotencyKey string
}

// PlaceOrder はACTIVEカートから注文を作る。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency key")
	}

	var (
		lines    []orderLine
		pkgs     []gateway.PackageItem
		addr     model.Address
		existing *OrderOutput
	)

	//送料見積もり（外部呼び出し）の前に読むだけ
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果（カートが空になった後の再送も含む）
		if key != "" {
			o, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err != nil {
				return dbError(err)
			}
			if found {
				out, err := loadOrderOutput(ctx, r, o)
				existing = &out
				return err
			}
		}

		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}
		if err != nil {
			return dbError(err)
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return dbError(err)
		}
		if len(cartItems) == 0 {
			return NewHTTPError(http.StatusBadRequest, "cart empty")
		}

		for _, ci := range cartItems {
			lines = append(lines, orderLine{ProductID: ci.ProductID, Quantity: ci.Quantity, UnitPrice: ci.UnitPriceSnapshot})
			if p, err := r.Products().FindByID(ctx, ci.ProductID); err == nil {
				pkgs = append(pkgs, packageItem(p.Name, ci.Quantity, ci.UnitPriceSnapshot))
			}
		}

		addr, err = resolveAddress(ctx, r, userID, in.AddressID)
		return err
	})
	if err != nil {
		return OrderOutput{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	choice, err := u.shipping.choose(ctx, addr.CEP, pkgs, in.ShippingServiceID)
	if err != nil {
		return OrderOutput{}, err
	}

	var (
		order   model.Order
		items   []model.OrderItem
		created bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		order, items, created, err = u.placeOrder(ctx, r, placement{
			UserID:         userID,
			AddressID:      addr.ID,
			Lines:          lines,
			CouponCode:     in.CouponCode,
			Shipping:       choice,
			IdempotencyKey: key,
		})
		return err
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if created {
		publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventCreated, order)
	}
	return toOrderOutput(order, items), nil
}

// placeOrder は注文作成の本体（呼び出し側のTx内で動く）。
// 在庫はここでは確認だけ。減算は決済承認時に1回だけ行う。
// 既存注文を返した場合 created=false。
func (u *OrderUsecase) placeOrder(ctx context.Context, r repo.TxRepos, p placement) (model.Order, []model.OrderItem, bool, error) {
	if len(p.Lines) == 0 {
		return model.Order{}, nil, false, NewHTTPError(http.StatusBadRequest, "cart empty")
	}

	now := u.now()
	fp := cartFingerprint(p.UserID, p.Lines)
	key := p.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("auto:%s:%d", fp, now.Unix()/30)
	}

	existing, found, err := r.Orders().FindByIdempotencyKey(ctx, p.UserID, key)
	if err != nil {
		return model.Order{}, nil, false, dbError(err)
	}
	if !found {
		//30秒以内の同じカート内容は作成済み扱い
		existing, found, err = r.Orders().FindRecentByFingerprint(ctx, p.UserID, fp, now.Add(-duplicateWindow))
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
	}
	if found {
		items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
		return existing, items, false, nil
	}

	items := make([]model.OrderItem, 0, len(p.Lines))
	var subtotal int64
	for _, l := range p.Lines {
		if l.Quantity < 1 {
			return model.Order{}, nil, false, NewHTTPError(http.StatusBadRequest, "invalid quantity")
		}
		prod, err := r.Products().FindByID(ctx, l.ProductID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && !prod.IsActive) {
			return model.Order{}, nil, false, NewHTTPError(http.StatusBadRequest, fmt.Sprintf("product %d is not available", l.ProductID))
		}
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
		if prod.Stock < l.Quantity {
			return model.Order{}, nil, false, NewHTTPError(http.StatusConflict, fmt.Sprintf("insufficient stock for %q (available: %d)", prod.Name, prod.Stock))
		}

		price := l.UnitPrice
		if price <= 0 {
			price = prod.Price
		}

		//スナップショット
		items = append(items, model.OrderItem{
			ProductID:           l.ProductID,
			ProductNameSnapshot: prod.Name,
			UnitPriceSnapshot:   price,
			Quantity:            l.Quantity,
			CreatedAt:           now,
		})
		subtotal += price * l.Quantity
	}

	var (
		coupon   *model.Coupon
		discount int64
	)
	if strings.TrimSpace(p.CouponCode) != "" {
		c, err := findApplicableCoupon(ctx, r.Coupons(), p.CouponCode, now)
		if err != nil {
			return model.Order{}, nil, false, err
		}
		coupon = &c
		discount = c.DiscountFor(subtotal)
	}

	order := model.Order{
		UserID:               p.UserID,
		AddressID:            p.AddressID,
		Status:               model.OrderStatusPaymentPending,
		Subtotal:             subtotal,
		DiscountAmount:       discount,
		ShippingPrice:        p.Shipping.PriceCents,
		Total:                subtotal - discount + p.Shipping.PriceCents,
		ShippingServiceID:    p.Shipping.ServiceID,
		ShippingService:      p.Shipping.ServiceName,
		ShippingDeliveryTime: p.Shipping.DeliveryDays,
		IdempotencyKey:       key,
		CartFingerprint:      fp,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if coupon != nil {
		order.CouponCode = coupon.Code
	}

	orderID, err := r.Orders().Create(ctx, order)
	if errors.Is(err, repo.ErrDuplicate) {
		//同時に同じキーが入った。勝った方を返す
		ex, found, err := r.Orders().FindByIdempotencyKey(ctx, p.UserID, key)
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
		if !found {
			return model.Order{}, nil, false, NewHTTPError(http.StatusConflict, "idempotency conflict")
		}
		exItems, err := r.OrderItems().ListByOrderID(ctx, ex.ID)
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
		return ex, exItems, false, nil
	}
	if err != nil {
		return model.Order{}, nil, false, dbError(err)
	}
	order.ID = orderID

	if err := r.OrderItems().CreateBulk(ctx, orderID, items); err != nil {
		return model.Order{}, nil, false, dbError(err)
	}
	for i := range items {
		items[i].OrderID = orderID
	}

	//使用上限は条件付きUPDATEで守る（足りなければTxごと戻す）
	if coupon != nil {
		ok, err := r.Coupons().IncrementUsage(ctx, coupon.ID)
		if err != nil {
			return model.Order{}, nil, false, dbError(err)
		}
		if !ok {
			return model.Order{}, nil, false, NewHTTPError(http.StatusConflict, "coupon usage limit reached")
		}
	}

	return order, items, true, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page, limit int) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	out := OrderListOutput{Page: page, Limit: limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return dbError(err)
		}

		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			oo, err := loadOrderOutput(ctx, r, o)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, oo)
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, err
	}
	return out, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 他人の注文は「存在しない扱い」にする
func findOwnedOrder(ctx context.Context, r repo.TxRepos, userID, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Order{}, dbError(err)
	}
	if o.UserID != userID {
		return model.Order{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	return o, nil
}

// 住所ID指定なら所有チェック、無指定ならデフォルト住所
func resolveAddress(ctx context.Context, r repo.TxRepos, userID, addressID int64) (model.Address, error) {
	if addressID > 0 {
		a, err := r.Addresses().FindByID(ctx, addressID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.Address{}, NewHTTPError(http.StatusNotFound, "address not found")
		}
		if err != nil {
			return model.Address{}, dbError(err)
		}
		if a.UserID != userID {
			return model.Address{}, NewHTTPError(http.StatusForbidden, "forbidden")
		}
		return a, nil
	}

	a, err := r.Addresses().FindDefault(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Address{}, NewHTTPError(http.StatusBadRequest, "address required")
	}
	if err != nil {
		return model.Address{}, dbError(err)
	}
	return a, nil
}

// cartFingerprint は user と (商品, 数量) の集合から決まる。並び順には依存しない。
func cartFingerprint(userID int64, lines []orderLine) string {
	qty := map[int64]int64{}
	for _, l := range lines {
		qty[l.ProductID] += l.Quantity
	}
	ids := make([]int64, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "%d|", userID)
	for _, id := range ids {
		fmt.Fprintf(&b, "%d:%d,", id, qty[id])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func loadOrderOutput(ctx context.Context, r repo.TxRepos, o model.Order) (OrderOutput, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, dbError(err)
	}
	return toOrderOutput(o, items), nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}

	return OrderOutput{
		ID:                   o.ID,
		UserID:               o.UserID,
		AddressID:            o.AddressID,
		Status:               string(o.Status),
		StatusCategory:       string(o.Status.Category()),
		Subtotal:             o.Subtotal,
		DiscountAmount:       o.DiscountAmount,
		ShippingPrice:        o.ShippingPrice,
		Total:                o.Total,
		CouponCode:           o.CouponCode,
		PaymentProvider:      string(o.PaymentProvider),
		PaymentMethod:        o.PaymentMethod,
		PaymentStatus:        o.PaymentStatus,
		ShippingService:      o.ShippingService,
		ShippingDeliveryTime: o.ShippingDeliveryTime,
		ShippingTrackingCode: o.ShippingTrackingCode,
		ReturnReason:         o.ReturnReason,
		PaidAt:               o.PaidAt,
		CreatedAt:            o.CreatedAt,
		Items:                outItems,
	}
}

// イベント送信は失敗してもログだけ
func publishOrderEvent(ctx context.Context, pub gateway.EventPublisher, log logrus.FieldLogger, typ string, o model.Order) {
	if pub == nil {
		return
	}
	err := pub.PublishOrderEvent(ctx, gateway.OrderEvent{
		Type:          typ,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "event": typ}).Warn("publish order event failed")
	}
}
