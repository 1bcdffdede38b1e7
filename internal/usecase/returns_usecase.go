package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/domain/orderflow"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

const minReturnReasonLen = 10

// ReturnsUsecase は返品（リバース物流）の申請・審査・ラベル発行。
type ReturnsUsecase struct {
	tx       repo.TransactionManager
	shipping *ShippingUsecase
	notifier gateway.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewReturnsUsecase(tx repo.TransactionManager, shipping *ShippingUsecase, notifier gateway.Notifier, log logrus.FieldLogger) *ReturnsUsecase {
	return &ReturnsUsecase{tx: tx, shipping: shipping, notifier: notifier, log: log, now: time.Now}
}

type ReturnRequestInput struct {
	Reason string `json:"reason"`
}

type ReturnDecisionInput struct {
	Reason string `json:"reason"`
}

type ReturnOutput struct {
	OrderID  int64           `json:"order_id"`
	Status   string          `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Shipment *model.Shipment `json:"shipment,omitempty"`
}

type ReturnLabel struct {
	Filename string
	PDF      []byte
}

// RequestReturn は注文者の返品申請。配達済みの注文だけ。
func (u *ReturnsUsecase) RequestReturn(ctx context.Context, userID, orderID int64, in ReturnRequestInput) (ReturnOutput, error) {
	if userID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	reason := strings.TrimSpace(in.Reason)
	if len([]rune(reason)) < minReturnReasonLen {
		return ReturnOutput{}, NewValidationError("invalid return", map[string]string{
			"reason": fmt.Sprintf("must have at least %d characters", minReturnReasonLen),
		})
	}

	var (
		out   ReturnOutput
		email string
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}
		o, err = r.Orders().FindByIDForUpdate(ctx, o.ID)
		if err != nil {
			return dbError(err)
		}

		next, err := orderflow.Next(o.Status, orderflow.On(orderflow.EventReturnRequested))
		if err != nil {
			return NewHTTPError(http.StatusBadRequest, "wrong status")
		}

		now := u.now()
		o.Status = next
		o.ReturnReason = reason
		o.ReturnRequestedAt = &now
		o.UpdatedAt = now
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}

		email = u.recipient(ctx, r, o.UserID)
		out = ReturnOutput{OrderID: o.ID, Status: string(o.Status), Reason: reason}
		return nil
	})
	if err != nil {
		return ReturnOutput{}, err
	}

	u.notify(ctx, email, orderID, "Recebemos sua solicitação de devolução.", reason)
	return out, nil
}

func (u *ReturnsUsecase) Approve(ctx context.Context, adminUserID, orderID int64) (ReturnOutput, error) {
	return u.decide(ctx, adminUserID, orderID, true, "")
}

func (u *ReturnsUsecase) Reject(ctx context.Context, adminUserID, orderID int64, in ReturnDecisionInput) (ReturnOutput, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ReturnOutput{}, NewValidationError("invalid decision", map[string]string{"reason": "required"})
	}
	return u.decide(ctx, adminUserID, orderID, false, reason)
}

func (u *ReturnsUsecase) decide(ctx context.Context, adminUserID, orderID int64, approve bool, reason string) (ReturnOutput, error) {
	if adminUserID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ev, action := orderflow.EventReturnApproved, model.AuditActionApproveReturn
	if !approve {
		ev, action = orderflow.EventReturnRejected, model.AuditActionRejectReturn
	}

	var (
		out   ReturnOutput
		email string
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := lockOrder(ctx, r, orderID)
		if err != nil {
			return err
		}
		before := o

		next, err := orderflow.Next(o.Status, orderflow.On(ev))
		if err != nil {
			return NewHTTPError(http.StatusBadRequest, "wrong status")
		}

		now := u.now()
		o.Status = next
		if !approve {
			o.ReturnRejectionReason = reason
		}
		o.UpdatedAt = now
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       action,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   toJSON(returnAudit(before)),
			AfterJSON:    toJSON(returnAudit(o)),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}

		email = u.recipient(ctx, r, o.UserID)
		out = ReturnOutput{OrderID: o.ID, Status: string(o.Status), Reason: reason}
		return nil
	})
	if err != nil {
		return ReturnOutput{}, err
	}

	if approve {
		u.notify(ctx, email, orderID, "Sua devolução foi aprovada. Em breve enviaremos a etiqueta de postagem.", "")
	} else {
		u.notify(ctx, email, orderID, "Sua solicitação de devolução foi recusada.", reason)
	}
	return out, nil
}

// GenerateLabel はリバース配送のラベルを購入する。往路と同じサービスを使う。
func (u *ReturnsUsecase) GenerateLabel(ctx context.Context, adminUserID, orderID int64) (ReturnOutput, error) {
	if adminUserID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if !u.shipping.carrierReady() {
		return ReturnOutput{}, NewHTTPError(http.StatusServiceUnavailable, "shipping provider not configured")
	}

	sc, err := u.shipping.loadShippingContext(ctx, orderID)
	if err != nil {
		return ReturnOutput{}, err
	}
	if !orderflow.Allowed(sc.Order.Status, orderflow.On(orderflow.EventReturnLabelGenerated)) {
		return ReturnOutput{}, NewHTTPError(http.StatusBadRequest, "wrong status")
	}
	if sc.Outbound == nil || sc.Outbound.ServiceID <= 0 {
		return ReturnOutput{}, NewHTTPError(http.StatusConflict, "outbound shipment not found")
	}

	//返品は客 → 店
	label, err := u.shipping.carrier.PurchaseReturn(ctx, gateway.PurchaseRequest{
		OrderID:   orderID,
		ServiceID: sc.Outbound.ServiceID,
		From:      customerParty(sc.Address, sc.User),
		To:        u.shipping.storeParty(),
		Items:     packageItemsFor(sc.Items),
	})
	if err != nil {
		u.log.WithError(err).WithField("order_id", orderID).Error("return label purchase failed")
		return ReturnOutput{}, providerError("return label purchase failed", err)
	}

	var out ReturnOutput
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := lockOrder(ctx, r, orderID)
		if err != nil {
			return err
		}
		before := o

		//購入中に状態が変わっていないか
		next, err := orderflow.Next(o.Status, orderflow.On(orderflow.EventReturnLabelGenerated))
		if err != nil {
			return NewHTTPError(http.StatusBadRequest, "wrong status")
		}

		now := u.now()
		s, err := r.Shipments().FindByOrderID(ctx, orderID, model.ShipmentKindReturn)
		isNew := errors.Is(err, repo.ErrNotFound)
		if err != nil && !isNew {
			return dbError(err)
		}
		if s.MelhorEnvioID != "" {
			return NewHTTPError(http.StatusConflict, "return label already purchased")
		}
		s.OrderID = orderID
		s.Kind = model.ShipmentKindReturn
		applyLabel(&s, label, now)
		s.ServiceID = sc.Outbound.ServiceID
		s.ServiceName = sc.Outbound.ServiceName
		if isNew {
			err = r.Shipments().Create(ctx, &s)
		} else {
			err = r.Shipments().Save(ctx, &s)
		}
		if err != nil {
			return dbError(err)
		}

		o.Status = next
		o.UpdatedAt = now
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionReturnLabel,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   toJSON(returnAudit(before)),
			AfterJSON:    toJSON(map[string]interface{}{"status": o.Status, "melhor_envio_id": s.MelhorEnvioID, "tracking_code": s.TrackingCode}),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}

		out = ReturnOutput{OrderID: orderID, Status: string(o.Status), Shipment: &s}
		return nil
	})
	if err != nil {
		u.shipping.discardLabel(orderID, model.ShipmentKindReturn, label, err)
		return ReturnOutput{}, err
	}

	u.notify(ctx, sc.User.Email, orderID, "A etiqueta de devolução está disponível na sua conta.", "")
	return out, nil
}

// DownloadLabel は返品ラベルのPDFを配送業者から取って返す（注文者のみ）。
func (u *ReturnsUsecase) DownloadLabel(ctx context.Context, userID, orderID int64) (ReturnLabel, error) {
	if userID <= 0 {
		return ReturnLabel{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return ReturnLabel{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var labelURL string
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := findOwnedOrder(ctx, r, userID, orderID); err != nil {
			return err
		}
		s, err := r.Shipments().FindByOrderID(ctx, orderID, model.ShipmentKindReturn)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "return label not found")
		}
		if err != nil {
			return dbError(err)
		}
		if s.LabelURL == "" {
			return NewHTTPError(http.StatusNotFound, "return label not found")
		}
		labelURL = s.LabelURL
		return nil
	})
	if err != nil {
		return ReturnLabel{}, err
	}

	pdf, err := u.shipping.carrier.DownloadLabel(ctx, labelURL)
	if err != nil {
		u.log.WithError(err).WithField("order_id", orderID).Warn("return label download failed")
		return ReturnLabel{}, providerError("label download failed", err)
	}
	return ReturnLabel{
		Filename: fmt.Sprintf("etiqueta-devolucao-%d.pdf", orderID),
		PDF:      pdf,
	}, nil
}

func lockOrder(ctx context.Context, r repo.TxRepos, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return model.Order{}, dbError(err)
	}
	return o, nil
}

func returnAudit(o model.Order) map[string]interface{} {
	return map[string]interface{}{
		"status":                  o.Status,
		"return_reason":           o.ReturnReason,
		"return_rejection_reason": o.ReturnRejectionReason,
	}
}

func (u *ReturnsUsecase) recipient(ctx context.Context, r repo.TxRepos, userID int64) string {
	user, err := r.Users().FindByID(ctx, userID)
	if err != nil || user == nil {
		return ""
	}
	return user.Email
}

// メールは失敗してもログだけ
func (u *ReturnsUsecase) notify(ctx context.Context, to string, orderID int64, message, reason string) {
	if u.notifier == nil || to == "" {
		return
	}
	if err := u.notifier.ReturnStatusChanged(ctx, to, orderID, message, reason); err != nil {
		u.log.WithError(err).WithField("order_id", orderID).Warn("return notification failed")
	}
}
