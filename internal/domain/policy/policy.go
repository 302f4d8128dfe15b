// Package policy decides which order actions are legal at which lifecycle
// status, and how a status is grouped for display. Everything here is
// pure; the aggregate enforces these rules again defensively even when
// the UI already hid an illegal action.
package policy

import "agromarket/internal/domain/entity"

type Action string

const (
	ActionCancel         Action = "cancel"
	ActionUploadPayment  Action = "upload_payment"
	ActionConfirmReceipt Action = "confirm_receipt"
	ActionAccept         Action = "accept"
	ActionReject         Action = "reject"
	ActionMarkPreparing  Action = "mark_preparing"
	ActionMarkDispatched Action = "mark_dispatched"
	ActionMarkDelivered  Action = "mark_delivered"
	ActionRateCustomer   Action = "rate_customer"
)

// allowedAt maps each action to the single status it is legal at. The
// lifecycle is strictly linear, so no action is legal at more than one
// status; terminal branches allow nothing but rating.
var allowedAt = map[Action]entity.OrderStatus{
	ActionCancel:         entity.StatusPendingReview,
	ActionUploadPayment:  entity.StatusAcceptedAwaitingPayment,
	ActionConfirmReceipt: entity.StatusDeliveredPendingBuyerConfirm,
	ActionAccept:         entity.StatusPendingReview,
	ActionReject:         entity.StatusPendingReview,
	ActionMarkPreparing:  entity.StatusPaymentSubmitted,
	ActionMarkDispatched: entity.StatusPreparing,
	ActionMarkDelivered:  entity.StatusDispatched,
	ActionRateCustomer:   entity.StatusCompleted,
}

// Allows reports whether action is legal for an order in status. Unknown
// statuses allow nothing.
func Allows(action Action, status entity.OrderStatus) bool {
	at, ok := allowedAt[action]
	return ok && at == status
}

func CanCancel(s entity.OrderStatus) bool         { return Allows(ActionCancel, s) }
func CanUploadPayment(s entity.OrderStatus) bool  { return Allows(ActionUploadPayment, s) }
func CanConfirmReceipt(s entity.OrderStatus) bool { return Allows(ActionConfirmReceipt, s) }
func CanAcceptReject(s entity.OrderStatus) bool   { return Allows(ActionAccept, s) }
func CanMarkPreparing(s entity.OrderStatus) bool  { return Allows(ActionMarkPreparing, s) }
func CanMarkDispatched(s entity.OrderStatus) bool { return Allows(ActionMarkDispatched, s) }
func CanMarkDelivered(s entity.OrderStatus) bool  { return Allows(ActionMarkDelivered, s) }
func CanRateCustomer(s entity.OrderStatus) bool   { return Allows(ActionRateCustomer, s) }

// Class groups statuses for display.
type Class string

const (
	ClassPending   Class = "pending"
	ClassAccepted  Class = "accepted"
	ClassCompleted Class = "completed"
	ClassRejected  Class = "rejected"
	ClassDisputed  Class = "disputed"
)

// Classify maps a status to its display group. Statuses the client has
// never seen fall through to ClassAccepted and are displayed verbatim;
// grouping an in-flight-looking order under "accepted" is the least
// misleading choice when the server is ahead of the client.
func Classify(s entity.OrderStatus) Class {
	switch s {
	case entity.StatusPendingReview, entity.StatusDeliveredPendingBuyerConfirm:
		return ClassPending
	case entity.StatusAcceptedAwaitingPayment, entity.StatusPaymentSubmitted,
		entity.StatusPreparing, entity.StatusDispatched:
		return ClassAccepted
	case entity.StatusCompleted:
		return ClassCompleted
	case entity.StatusRejected, entity.StatusExpired, entity.StatusCancelledByUser:
		return ClassRejected
	case entity.StatusDisputed:
		return ClassDisputed
	default:
		return ClassAccepted
	}
}
