package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/domain/orderflow"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

type AdminOrderUsecase struct {
	tx     repo.TransactionManager
	events gateway.EventPublisher
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewAdminOrderUsecase(tx repo.TransactionManager, events gateway.EventPublisher, log logrus.FieldLogger) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, events: events, log: log, now: time.Now}
}

type AdminUpdateOrderStatusInput struct {
	Status string `json:"status"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	if f.Page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" && !model.OrderStatus(f.Status).IsValid() {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	out := OrderListOutput{Page: f.Page, Limit: f.Limit}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
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

// UpdateStatus は管理者の手動変更。キャンセル以外ならどこへでも動かせる。
// 支払い済みの注文をキャンセルしたら在庫を戻す。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	target := model.OrderStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if !target.IsValid() {
		return OrderOutput{}, NewValidationError("invalid status", map[string]string{"status": "unknown status"})
	}

	var (
		out     OrderOutput
		changed *model.Order
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return dbError(err)
		}

		// すでに同じなら何もしない（200）
		if o.Status == target {
			out = toOrderOutput(o, items)
			return nil
		}

		next, err := orderflow.Next(o.Status, orderflow.Override(target))
		if err != nil {
			return NewHTTPError(http.StatusBadRequest, "cannot change cancelled order")
		}

		// 在庫は承認時に減らしているので、その分だけ戻す
		if next == model.OrderStatusCancelled && o.PaidAt != nil {
			for _, it := range items {
				if err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
					return dbError(err)
				}
			}
		}

		before := o.Status
		o.Status = next
		o.UpdatedAt = u.now()
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorAdminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   toJSON(map[string]model.OrderStatus{"status": before}),
			AfterJSON:    toJSON(map[string]model.OrderStatus{"status": next}),
			CreatedAt:    o.UpdatedAt,
		}); err != nil {
			return dbError(err)
		}

		out = toOrderOutput(o, items)
		changed = &o
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if changed != nil {
		u.log.WithFields(logrus.Fields{"order_id": orderID, "status": changed.Status, "actor": actorAdminUserID}).Info("order status overridden")
		publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventStatusChanged, *changed)
	}
	return out, nil
}

type AuditLogUsecase struct {
	audits repo.AuditLogRepository
}

func NewAuditLogUsecase(audits repo.AuditLogRepository) *AuditLogUsecase {
	return &AuditLogUsecase{audits: audits}
}

func (u *AuditLogUsecase) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	if f.Limit < 0 || f.Limit > 200 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Offset < 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid offset")
	}
	logs, err := u.audits.List(ctx, f)
	if err != nil {
		return nil, dbError(err)
	}
	return logs, nil
}
