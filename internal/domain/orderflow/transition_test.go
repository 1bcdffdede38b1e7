package orderflow_test

import (
	"errors"
	"testing"

	"brickshop/internal/domain/model"
	"brickshop/internal/domain/orderflow"

	"github.com/stretchr/testify/assert"
)

func TestNext_AllowedTransitions(t *testing.T) {
	cases := []struct {
		name string
		from model.OrderStatus
		ev   orderflow.EventKind
		want model.OrderStatus
	}{
		{"approve pending", model.OrderStatusPaymentPending, orderflow.EventPaymentApproved, model.OrderStatusProcessing},
		{"approve abandoned sale", model.OrderStatusAbandonedSale, orderflow.EventPaymentApproved, model.OrderStatusProcessing},
		{"pending keeps status", model.OrderStatusPaymentIncomplete, orderflow.EventPaymentPending, model.OrderStatusPaymentIncomplete},
		{"failed", model.OrderStatusPaymentPending, orderflow.EventPaymentFailed, model.OrderStatusPaymentIncomplete},
		{"cancel processing", model.OrderStatusProcessing, orderflow.EventPaymentCancelled, model.OrderStatusCancelled},
		{"posted", model.OrderStatusProcessing, orderflow.EventShipmentPosted, model.OrderStatusShipped},
		{"delivered after shipped", model.OrderStatusShipped, orderflow.EventShipmentDelivered, model.OrderStatusDelivered},
		{"delivered skipping shipped", model.OrderStatusProcessing, orderflow.EventShipmentDelivered, model.OrderStatusDelivered},
		{"return requested", model.OrderStatusDelivered, orderflow.EventReturnRequested, model.OrderStatusReturnRequested},
		{"return approved", model.OrderStatusReturnRequested, orderflow.EventReturnApproved, model.OrderStatusReturnApproved},
		{"return rejected", model.OrderStatusReturnRequested, orderflow.EventReturnRejected, model.OrderStatusReturnRejected},
		{"return label", model.OrderStatusReturnApproved, orderflow.EventReturnLabelGenerated, model.OrderStatusReturnLabelGenerated},
		{"return posted", model.OrderStatusReturnLabelGenerated, orderflow.EventReturnPosted, model.OrderStatusReturnInTransit},
		{"return received", model.OrderStatusReturnInTransit, orderflow.EventReturnDelivered, model.OrderStatusReturnReceived},
		{"abandon", model.OrderStatusPaymentPending, orderflow.EventMarkAbandoned, model.OrderStatusAbandonedSale},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := orderflow.Next(tc.from, orderflow.On(tc.ev))
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNext_RejectedTransitions(t *testing.T) {
	cases := []struct {
		name string
		from model.OrderStatus
		ev   orderflow.EventKind
	}{
		{"posted after delivered", model.OrderStatusDelivered, orderflow.EventShipmentPosted},
		{"return from processing", model.OrderStatusProcessing, orderflow.EventReturnRequested},
		{"return twice", model.OrderStatusReturnRequested, orderflow.EventReturnRequested},
		{"approve shipped", model.OrderStatusShipped, orderflow.EventPaymentApproved},
		{"label before approval", model.OrderStatusReturnRequested, orderflow.EventReturnLabelGenerated},
		{"cancel delivered", model.OrderStatusDelivered, orderflow.EventPaymentCancelled},
		{"unknown event", model.OrderStatusPaymentPending, orderflow.EventKind("teleport")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := orderflow.Next(tc.from, orderflow.On(tc.ev))
			assert.True(t, errors.Is(err, orderflow.ErrInvalidTransition))
			assert.Equal(t, tc.from, got)

			var te *orderflow.TransitionError
			assert.True(t, errors.As(err, &te))
			assert.Equal(t, tc.from, te.From)
		})
	}
}

func TestNext_InvalidCurrentStatus(t *testing.T) {
	_, err := orderflow.Next(model.OrderStatus("PAID"), orderflow.On(orderflow.EventPaymentApproved))
	assert.ErrorIs(t, err, orderflow.ErrInvalidTransition)
}

func TestNext_AdminOverride(t *testing.T) {
	got, err := orderflow.Next(model.OrderStatusProcessing, orderflow.Override(model.OrderStatusShipped))
	assert.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, got)

	//キャンセル済みは変更不可
	_, err = orderflow.Next(model.OrderStatusCancelled, orderflow.Override(model.OrderStatusProcessing))
	assert.ErrorIs(t, err, orderflow.ErrInvalidTransition)

	//集合外のステータスは不可
	_, err = orderflow.Next(model.OrderStatusProcessing, orderflow.Override(model.OrderStatus("lost")))
	assert.ErrorIs(t, err, orderflow.ErrInvalidTransition)
}

func TestStatusCategory(t *testing.T) {
	assert.Equal(t, model.CategoryPayment, model.OrderStatusPaymentPending.Category())
	assert.Equal(t, model.CategoryException, model.OrderStatusCancelled.Category())
	assert.Equal(t, model.CategoryLogistics, model.OrderStatusShipped.Category())
	assert.Equal(t, model.CategoryReturn, model.OrderStatusReturnRejected.Category())
	assert.False(t, model.OrderStatus("PAID").IsValid())
}
