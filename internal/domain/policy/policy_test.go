package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"agromarket/internal/domain/entity"
)

var allStatuses = []entity.OrderStatus{
	entity.StatusPendingReview,
	entity.StatusAcceptedAwaitingPayment,
	entity.StatusPaymentSubmitted,
	entity.StatusPreparing,
	entity.StatusDispatched,
	entity.StatusDeliveredPendingBuyerConfirm,
	entity.StatusCompleted,
	entity.StatusRejected,
	entity.StatusExpired,
	entity.StatusCancelledByUser,
	entity.StatusDisputed,
}

func TestCanCancelOnlyWhilePendingReview(t *testing.T) {
	for _, s := range allStatuses {
		want := s == entity.StatusPendingReview
		assert.Equal(t, want, CanCancel(s), "status %s", s)
	}
	assert.False(t, CanCancel(entity.OrderStatus("SomethingNew")))
}

func TestActionGates(t *testing.T) {
	cases := []struct {
		gate   func(entity.OrderStatus) bool
		status entity.OrderStatus
	}{
		{CanUploadPayment, entity.StatusAcceptedAwaitingPayment},
		{CanConfirmReceipt, entity.StatusDeliveredPendingBuyerConfirm},
		{CanAcceptReject, entity.StatusPendingReview},
		{CanMarkPreparing, entity.StatusPaymentSubmitted},
		{CanMarkDispatched, entity.StatusPreparing},
		{CanMarkDelivered, entity.StatusDispatched},
		{CanRateCustomer, entity.StatusCompleted},
	}

	for _, tc := range cases {
		for _, s := range allStatuses {
			assert.Equal(t, s == tc.status, tc.gate(s), "gate for %s at %s", tc.status, s)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := map[entity.OrderStatus]Class{
		entity.StatusPendingReview:                ClassPending,
		entity.StatusDeliveredPendingBuyerConfirm: ClassPending,
		entity.StatusAcceptedAwaitingPayment:      ClassAccepted,
		entity.StatusPaymentSubmitted:             ClassAccepted,
		entity.StatusPreparing:                    ClassAccepted,
		entity.StatusDispatched:                   ClassAccepted,
		entity.StatusCompleted:                    ClassCompleted,
		entity.StatusRejected:                     ClassRejected,
		entity.StatusExpired:                      ClassRejected,
		entity.StatusCancelledByUser:              ClassRejected,
		entity.StatusDisputed:                     ClassDisputed,
	}
	for s, want := range cases {
		assert.Equal(t, want, Classify(s), "status %s", s)
	}
}

func TestClassifyUnknownStatusFallsBack(t *testing.T) {
	for _, raw := range []string{"", "refund_pending", "PENDINGREVIEW", "完了"} {
		s := entity.OrderStatus(raw)
		assert.NotPanics(t, func() { Classify(s) })
		assert.Equal(t, ClassAccepted, Classify(s))
		assert.False(t, s.Known())
		for _, a := range []Action{
			ActionCancel, ActionUploadPayment, ActionConfirmReceipt, ActionAccept,
			ActionReject, ActionMarkPreparing, ActionMarkDispatched, ActionMarkDelivered,
			ActionRateCustomer,
		} {
			assert.False(t, Allows(a, s), "action %s at %q", a, raw)
		}
	}
}
