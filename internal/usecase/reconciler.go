package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/domain/orderflow"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

// Reconciler は決済・配送の非同期通知を注文の状態にまとめる。
// 通知は重複・順不同で届く前提。副作用は初回の承認でだけ動く。
type Reconciler struct {
	tx           repo.TransactionManager
	mp           gateway.MercadoPago
	stripe       gateway.Stripe
	carrier      gateway.Carrier
	shipping     *ShippingUsecase
	notifier     gateway.Notifier
	events       gateway.EventPublisher
	log          logrus.FieldLogger
	autoPurchase bool
	now          func() time.Time
}

type ReconcilerDeps struct {
	Tx           repo.TransactionManager
	MercadoPago  gateway.MercadoPago
	Stripe       gateway.Stripe
	Carrier      gateway.Carrier
	Shipping     *ShippingUsecase
	Notifier     gateway.Notifier
	Events       gateway.EventPublisher
	Log          logrus.FieldLogger
	AutoPurchase bool
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	return &Reconciler{
		tx:           d.Tx,
		mp:           d.MercadoPago,
		stripe:       d.Stripe,
		carrier:      d.Carrier,
		shipping:     d.Shipping,
		notifier:     d.Notifier,
		events:       d.Events,
		log:          d.Log,
		autoPurchase: d.AutoPurchase,
		now:          time.Now,
	}
}

// ReconcileResult はWebhookへの応答に使う。
// Duplicate/Ignored/Rejected はどれも 200 で受け取り済みにする。
type ReconcileResult struct {
	OrderID   int64             `json:"order_id,omitempty"`
	Status    model.OrderStatus `json:"status,omitempty"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Ignored   bool              `json:"ignored,omitempty"`
	Rejected  bool              `json:"rejected,omitempty"`
}

// HandleMercadoPagoWebhook は通知のIDで決済を取り直してから反映する。
// 通知本文の状態は使わない。
func (u *Reconciler) HandleMercadoPagoWebhook(ctx context.Context, req gateway.WebhookRequest) (ReconcileResult, error) {
	notice, err := u.mp.ParseWebhook(req)
	if err != nil {
		return ReconcileResult{}, err
	}
	if notice.Ignored {
		u.log.WithFields(logrus.Fields{"provider": model.PaymentProviderMercadoPago, "type": notice.Type}).Debug("webhook ignored")
		return ReconcileResult{Ignored: true}, nil
	}

	update, err := u.mp.GetPayment(ctx, notice.PaymentID)
	if err != nil {
		u.log.WithError(err).WithField("payment_id", notice.PaymentID).Warn("mercadopago payment fetch failed")
		return ReconcileResult{}, providerError("payment fetch failed", err)
	}
	return u.ApplyPaymentUpdate(ctx, update)
}

// HandleStripeWebhook は署名済みイベントを event id で重複排除して反映する。
func (u *Reconciler) HandleStripeWebhook(ctx context.Context, req gateway.WebhookRequest) (ReconcileResult, error) {
	update, ignored, err := u.stripe.ParseWebhook(req)
	if err != nil {
		return ReconcileResult{}, err
	}
	if ignored {
		return ReconcileResult{Ignored: true}, nil
	}
	return u.apply(ctx, update)
}

func (u *Reconciler) ApplyPaymentUpdate(ctx context.Context, update gateway.PaymentUpdate) (ReconcileResult, error) {
	return u.apply(ctx, update)
}

type paymentEffects struct {
	order         model.Order
	items         []model.OrderItem
	email         string
	statusChanged bool
	firstApproval bool
}

func paymentEvent(status string) (orderflow.EventKind, bool) {
	switch status {
	case model.PaymentStatusApproved:
		return orderflow.EventPaymentApproved, true
	case model.PaymentStatusPending:
		return orderflow.EventPaymentPending, true
	case model.PaymentStatusFailed:
		return orderflow.EventPaymentFailed, true
	case model.PaymentStatusCancelled:
		return orderflow.EventPaymentCancelled, true
	}
	return "", false
}

func (u *Reconciler) apply(ctx context.Context, update gateway.PaymentUpdate) (ReconcileResult, error) {
	log := u.log.WithFields(logrus.Fields{
		"provider":   update.Provider,
		"payment_id": update.PaymentID,
		"order_id":   update.OrderID,
		"status":     update.Status,
	})

	kind, ok := paymentEvent(update.Status)
	if !ok {
		log.WithField("raw_status", update.RawStatus).Warn("unknown payment status")
		return ReconcileResult{OrderID: update.OrderID, Ignored: true}, nil
	}

	var (
		res ReconcileResult
		fx  paymentEffects
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if update.EventID != "" {
			first, err := r.WebhookEvents().Record(ctx, model.WebhookEvent{
				Provider:   string(update.Provider),
				EventID:    update.EventID,
				EventType:  update.EventType,
				ReceivedAt: u.now(),
			})
			if err != nil {
				return dbError(err)
			}
			if !first {
				res = ReconcileResult{OrderID: update.OrderID, Duplicate: true}
				return nil
			}
		}

		order, err := u.findPaymentOrder(ctx, r, update)
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("payment for unknown order")
			res = ReconcileResult{OrderID: update.OrderID, Ignored: true}
			return nil
		}
		if err != nil {
			return dbError(err)
		}
		res.OrderID = order.ID

		//作り直す前の支払いの通知。承認以外は反映しない
		adopt := false
		if order.PaymentID != "" && update.PaymentID != "" && update.PaymentID != order.PaymentID {
			plog := log.WithField("current_payment_id", order.PaymentID)
			if update.Status != model.PaymentStatusApproved || order.PaymentStatus == model.PaymentStatusApproved {
				if update.Status == model.PaymentStatusApproved {
					plog.Error("second approved payment on order")
				} else {
					plog.Warn("stale payment update ignored")
				}
				res.Status = order.Status
				res.Ignored = true
				return nil
			}
			plog.Warn("approved payment replaces current payment")
			adopt = true
		}

		//承認済みの再送は何もしない
		if order.PaymentStatus == model.PaymentStatusApproved && update.Status == model.PaymentStatusApproved {
			res.Status = order.Status
			res.Duplicate = true
			return nil
		}

		prev := order.Status
		next, err := orderflow.Next(order.Status, orderflow.On(kind))
		rejected := err != nil
		if rejected {
			log.WithField("order_status", order.Status).WithError(err).Warn("payment transition rejected")
			res.Rejected = true
		}

		//承認済みを拒否された遷移で上書きしない
		if !(rejected && order.PaymentStatus == model.PaymentStatusApproved) {
			order.PaymentStatus = update.Status
		}
		if order.PaymentProvider == "" || adopt {
			order.PaymentProvider = update.Provider
		}
		if order.PaymentID == "" || adopt {
			order.PaymentID = update.PaymentID
		}
		if update.Method != "" && (order.PaymentMethod == "" || adopt) {
			order.PaymentMethod = update.Method
		}

		items, err := r.OrderItems().ListByOrderID(ctx, order.ID)
		if err != nil {
			return dbError(err)
		}

		if !rejected {
			order.Status = next

			//承認後の取消（返金・チャージバック）は在庫を戻す
			if kind == orderflow.EventPaymentCancelled && order.PaidAt != nil {
				for _, it := range items {
					if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
						return dbError(err)
					}
				}
			}
		}

		//管理者が先に進めた注文でも、初回の承認なら在庫と支払日時を確定する
		if update.Status == model.PaymentStatusApproved && order.PaidAt == nil {
			if order.Status == model.OrderStatusCancelled {
				log.Error("approved payment on cancelled order")
			} else {
				if err := u.onFirstApproval(ctx, r, &order, items, log); err != nil {
					return err
				}
				fx.firstApproval = true
			}
		}

		order.UpdatedAt = u.now()
		if err := r.Orders().Save(ctx, &order); err != nil {
			return dbError(err)
		}

		res.Status = order.Status
		fx.order = order
		fx.items = items
		fx.statusChanged = order.Status != prev

		if fx.firstApproval {
			user, err := r.Users().FindByID(ctx, order.UserID)
			if err != nil {
				return dbError(err)
			}
			if user != nil {
				fx.email = user.Email
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	u.afterPayment(ctx, fx, log)
	return res, nil
}

func (u *Reconciler) findPaymentOrder(ctx context.Context, r repo.TxRepos, update gateway.PaymentUpdate) (model.Order, error) {
	if update.OrderID > 0 {
		return r.Orders().FindByIDForUpdate(ctx, update.OrderID)
	}
	o, found, err := r.Orders().FindByPaymentID(ctx, update.Provider, update.PaymentID)
	if err != nil {
		return model.Order{}, err
	}
	if !found {
		return model.Order{}, repo.ErrNotFound
	}
	return r.Orders().FindByIDForUpdate(ctx, o.ID)
}

// 初回承認の副作用（在庫減算・カート確定）。同じTx内で動く
func (u *Reconciler) onFirstApproval(ctx context.Context, r repo.TxRepos, order *model.Order, items []model.OrderItem, log logrus.FieldLogger) error {
	now := u.now()
	order.PaidAt = &now

	for _, it := range items {
		ok, err := r.Inventory().DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return dbError(err)
		}
		if ok {
			continue
		}

		//支払いは受け取り済みなので止めずに記録だけ残す
		log.WithFields(logrus.Fields{"product_id": it.ProductID, "quantity": it.Quantity}).Error("stock shortfall on paid order")
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  0,
			Action:       model.AuditActionStockShortfall,
			ResourceType: model.AuditResourceProduct,
			ResourceID:   it.ProductID,
			AfterJSON:    toJSON(map[string]int64{"order_id": order.ID, "quantity": it.Quantity}),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
	}

	cart, err := r.Carts().FindActiveByUserID(ctx, order.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dbError(err)
	}
	if err := r.Carts().Clear(ctx, cart.ID); err != nil {
		return dbError(err)
	}
	if err := r.Carts().UpdateStatus(ctx, cart.ID, model.CartStatusCheckedOut); err != nil {
		return dbError(err)
	}
	return nil
}

// commit後の処理。失敗はログだけ
func (u *Reconciler) afterPayment(ctx context.Context, fx paymentEffects, log logrus.FieldLogger) {
	if fx.order.ID == 0 {
		return
	}
	if fx.statusChanged {
		publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventStatusChanged, fx.order)
	}
	if !fx.firstApproval {
		return
	}

	publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventPaid, fx.order)

	if u.notifier != nil && fx.email != "" {
		if err := u.notifier.OrderConfirmed(ctx, fx.email, fx.order, fx.items); err != nil {
			log.WithError(err).Warn("order confirmation email failed")
		}
	}

	if u.autoPurchase && u.shipping != nil {
		if _, err := u.shipping.AutoPurchase(ctx, fx.order.ID); err != nil {
			log.WithError(err).Warn("auto shipment purchase failed")
		}
	}
}

// HandleMelhorEnvioWebhook は配送状態を追跡履歴と注文に反映する。
func (u *Reconciler) HandleMelhorEnvioWebhook(ctx context.Context, req gateway.WebhookRequest) (ReconcileResult, error) {
	notice, err := u.carrier.ParseWebhook(req)
	if err != nil {
		return ReconcileResult{}, err
	}
	return u.ApplyShipmentUpdate(ctx, notice)
}

func shipmentEvent(kind model.ShipmentKind, status string) (orderflow.EventKind, bool) {
	if kind == model.ShipmentKindReturn {
		switch status {
		case gateway.ShipmentStatusPosted:
			return orderflow.EventReturnPosted, true
		case gateway.ShipmentStatusDelivered:
			return orderflow.EventReturnDelivered, true
		}
		return "", false
	}
	switch status {
	case gateway.ShipmentStatusPosted:
		return orderflow.EventShipmentPosted, true
	case gateway.ShipmentStatusDelivered:
		return orderflow.EventShipmentDelivered, true
	case gateway.ShipmentStatusCanceled:
		return orderflow.EventShipmentCanceled, true
	}
	return "", false
}

func (u *Reconciler) ApplyShipmentUpdate(ctx context.Context, n gateway.ShipmentNotice) (ReconcileResult, error) {
	log := u.log.WithFields(logrus.Fields{
		"event":           n.Event,
		"melhor_envio_id": n.MelhorEnvioID,
		"status":          n.Status,
	})

	var (
		res     ReconcileResult
		changed *model.Order
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		s, err := u.findShipment(ctx, r, n)
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("shipment webhook for unknown shipment")
			res.Ignored = true
			return nil
		}
		if err != nil {
			return dbError(err)
		}

		now := u.now()
		date := n.Date
		if date.IsZero() {
			date = now
		}
		status := n.Status
		if status == "" {
			status = n.RawStatus
		}

		//同じ通知の再送は履歴に積まない
		last, err := r.Shipments().LastEvent(ctx, s.ID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return dbError(err)
		}
		repeated := err == nil && sameTrackingEvent(last, status, n)
		if repeated {
			log.Debug("repeated tracking event skipped")
		} else if err := r.Shipments().AppendEvent(ctx, model.TrackingEvent{
			ShipmentID: s.ID,
			Status:     status,
			Message:    n.Message,
			Location:   n.Location,
			Date:       date,
			CreatedAt:  now,
		}); err != nil {
			return dbError(err)
		}

		switch n.Status {
		case gateway.ShipmentStatusPaid:
			if !s.Paid {
				s.Paid, s.PaidAt = true, &date
			}
		case gateway.ShipmentStatusPosted:
			if !s.Posted {
				s.Posted, s.PostedAt = true, &date
			}
		case gateway.ShipmentStatusDelivered:
			if !s.Delivered {
				s.Delivered, s.DeliveredAt = true, &date
			}
		case gateway.ShipmentStatusCanceled:
			if !s.Canceled {
				s.Canceled, s.CanceledAt = true, &date
			}
		}
		if n.RawStatus != "" {
			s.Status = n.RawStatus
		}
		if n.TrackingCode != "" {
			s.TrackingCode = n.TrackingCode
		}
		if n.Protocol != "" && s.Protocol == "" {
			s.Protocol = n.Protocol
		}
		if err := r.Shipments().Save(ctx, &s); err != nil {
			return dbError(err)
		}

		order, err := r.Orders().FindByIDForUpdate(ctx, s.OrderID)
		if err != nil {
			return dbError(err)
		}
		res.OrderID = order.ID
		res.Status = order.Status

		dirty, statusMoved := false, false
		if s.Kind == model.ShipmentKindOutbound && s.TrackingCode != "" && order.ShippingTrackingCode != s.TrackingCode {
			order.ShippingTrackingCode = s.TrackingCode
			dirty = true
		}

		kind, ok := shipmentEvent(s.Kind, n.Status)
		if ok {
			next, err := orderflow.Next(order.Status, orderflow.On(kind))
			if err != nil {
				//順不同で届いた古い通知。記録だけして受け取る
				log.WithFields(logrus.Fields{"order_id": order.ID, "order_status": order.Status}).WithError(err).Warn("shipment transition rejected")
				res.Rejected = true
			} else if next != order.Status {
				order.Status = next
				dirty, statusMoved = true, true
				res.Status = next
			}
		}

		if dirty {
			order.UpdatedAt = now
			if err := r.Orders().Save(ctx, &order); err != nil {
				return dbError(err)
			}
		}
		if statusMoved {
			o := order
			changed = &o
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if changed != nil {
		publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventStatusChanged, *changed)
	}
	return res, nil
}

// 日時が無い通知は内容だけで比べる
func sameTrackingEvent(last model.TrackingEvent, status string, n gateway.ShipmentNotice) bool {
	if last.Status != status || last.Message != n.Message || last.Location != n.Location {
		return false
	}
	return n.Date.IsZero() || last.Date.Equal(n.Date)
}

func (u *Reconciler) findShipment(ctx context.Context, r repo.TxRepos, n gateway.ShipmentNotice) (model.Shipment, error) {
	if n.MelhorEnvioID != "" {
		s, err := r.Shipments().FindByMelhorEnvioID(ctx, n.MelhorEnvioID)
		if err == nil || !errors.Is(err, repo.ErrNotFound) {
			return s, err
		}
	}
	if n.TrackingCode != "" {
		return r.Shipments().FindByTrackingCode(ctx, n.TrackingCode)
	}
	return model.Shipment{}, repo.ErrNotFound
}

// WebhookStatus は Reconciler のエラーをWebhookの応答コードにする。
// 400/401 以外の失敗は再送してもらう。
func WebhookStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, gateway.ErrMalformedWebhook):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	if he, ok := AsHTTPError(err); ok {
		return he.Status
	}
	return http.StatusInternalServerError
}
