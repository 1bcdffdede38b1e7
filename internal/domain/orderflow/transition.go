// Package orderflow は注文ステータスの遷移表を持つ。
// ステータスを書き換える処理はすべて Next を通す。
package orderflow

import (
	"errors"
	"fmt"

	"brickshop/internal/domain/model"
)

type EventKind string

const (
	EventPaymentApproved      EventKind = "payment_approved"
	EventPaymentPending       EventKind = "payment_pending"
	EventPaymentFailed        EventKind = "payment_failed"
	EventPaymentCancelled     EventKind = "payment_cancelled"
	EventShipmentPosted       EventKind = "shipment_posted"
	EventShipmentDelivered    EventKind = "shipment_delivered"
	EventShipmentCanceled     EventKind = "shipment_canceled"
	EventReturnRequested      EventKind = "return_requested"
	EventReturnApproved       EventKind = "return_approved"
	EventReturnRejected       EventKind = "return_rejected"
	EventReturnLabelGenerated EventKind = "return_label_generated"
	EventReturnPosted         EventKind = "return_posted"
	EventReturnDelivered      EventKind = "return_delivered"
	EventMarkAbandoned        EventKind = "mark_abandoned"
	EventAdminOverride        EventKind = "admin_override"
)

// Event は遷移のきっかけ。Target は EventAdminOverride のときだけ使う。
type Event struct {
	Kind   EventKind
	Target model.OrderStatus
}

func On(kind EventKind) Event {
	return Event{Kind: kind}
}

func Override(target model.OrderStatus) Event {
	return Event{Kind: EventAdminOverride, Target: target}
}

var ErrInvalidTransition = errors.New("invalid order status transition")

// TransitionError は拒否された遷移の詳細
type TransitionError struct {
	From  model.OrderStatus
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to order in %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// 遷移表: event -> from -> to
var table = map[EventKind]map[model.OrderStatus]model.OrderStatus{
	EventPaymentApproved: {
		model.OrderStatusPaymentPending:    model.OrderStatusProcessing,
		model.OrderStatusPaymentIncomplete: model.OrderStatusProcessing,
		model.OrderStatusAbandonedCart:     model.OrderStatusProcessing,
		model.OrderStatusAbandonedSale:     model.OrderStatusProcessing,
	},
	EventPaymentPending: {
		model.OrderStatusPaymentPending:    model.OrderStatusPaymentPending,
		model.OrderStatusPaymentIncomplete: model.OrderStatusPaymentIncomplete,
	},
	EventPaymentFailed: {
		model.OrderStatusPaymentPending:    model.OrderStatusPaymentIncomplete,
		model.OrderStatusPaymentIncomplete: model.OrderStatusPaymentIncomplete,
	},
	EventPaymentCancelled: {
		model.OrderStatusPaymentPending:    model.OrderStatusCancelled,
		model.OrderStatusPaymentIncomplete: model.OrderStatusCancelled,
		model.OrderStatusAbandonedCart:     model.OrderStatusCancelled,
		model.OrderStatusAbandonedSale:     model.OrderStatusCancelled,
		model.OrderStatusProcessing:        model.OrderStatusCancelled,
	},
	EventShipmentPosted: {
		model.OrderStatusProcessing: model.OrderStatusShipped,
	},
	EventShipmentDelivered: {
		model.OrderStatusProcessing: model.OrderStatusDelivered,
		model.OrderStatusShipped:    model.OrderStatusDelivered,
	},
	EventShipmentCanceled: {
		model.OrderStatusProcessing: model.OrderStatusCancelled,
	},
	EventReturnRequested: {
		model.OrderStatusDelivered: model.OrderStatusReturnRequested,
	},
	EventReturnApproved: {
		model.OrderStatusReturnRequested: model.OrderStatusReturnApproved,
	},
	EventReturnRejected: {
		model.OrderStatusReturnRequested: model.OrderStatusReturnRejected,
	},
	EventReturnLabelGenerated: {
		model.OrderStatusReturnApproved: model.OrderStatusReturnLabelGenerated,
	},
	EventReturnPosted: {
		model.OrderStatusReturnLabelGenerated: model.OrderStatusReturnInTransit,
	},
	EventReturnDelivered: {
		model.OrderStatusReturnLabelGenerated: model.OrderStatusReturnReceived,
		model.OrderStatusReturnInTransit:      model.OrderStatusReturnReceived,
	},
	EventMarkAbandoned: {
		model.OrderStatusPaymentPending:    model.OrderStatusAbandonedSale,
		model.OrderStatusPaymentIncomplete: model.OrderStatusAbandonedSale,
	},
}

// Next は current に ev を適用した後のステータスを返す。
// 表にない組み合わせは *TransitionError（ErrInvalidTransition）。
func Next(current model.OrderStatus, ev Event) (model.OrderStatus, error) {
	if !current.IsValid() {
		return current, &TransitionError{From: current, Event: ev.Kind}
	}

	switch ev.Kind {
	case EventAdminOverride:
		//キャンセルは終端。管理者でも戻せない
		if current == model.OrderStatusCancelled || !ev.Target.IsValid() {
			return current, &TransitionError{From: current, Event: ev.Kind}
		}
		return ev.Target, nil
	case EventPaymentApproved, EventPaymentPending, EventPaymentFailed, EventPaymentCancelled,
		EventShipmentPosted, EventShipmentDelivered, EventShipmentCanceled,
		EventReturnRequested, EventReturnApproved, EventReturnRejected,
		EventReturnLabelGenerated, EventReturnPosted, EventReturnDelivered,
		EventMarkAbandoned:
		to, ok := table[ev.Kind][current]
		if !ok {
			return current, &TransitionError{From: current, Event: ev.Kind}
		}
		return to, nil
	default:
		return current, &TransitionError{From: current, Event: ev.Kind}
	}
}

// Allowed は ev が current に適用できるか
func Allowed(current model.OrderStatus, ev Event) bool {
	_, err := Next(current, ev)
	return err == nil
}
