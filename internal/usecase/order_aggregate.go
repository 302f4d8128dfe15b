package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/policy"
	"agromarket/internal/gateway"
	apperrors "agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// MaxPaymentImageSize caps payment proof uploads at 6 MiB.
const MaxPaymentImageSize = 6 * 1024 * 1024

var validate = validator.New()

type rejectInput struct {
	Reason string `validate:"required,min=5"`
}

type confirmInput struct {
	Answer string `validate:"required,oneof=yes no"`
}

type rateInput struct {
	Rating  int    `validate:"required,min=1,max=5"`
	Comment string `validate:"max=500"`
}

// OrderAggregate holds one order's server-confirmed state and funnels
// every mutation through the status policy, the rowVersion token, and a
// per-aggregate in-flight guard. Local state never changes before the
// server confirms: a wrong optimistic guess would misrepresent a money
// state to the other party.
type OrderAggregate struct {
	gw      gateway.OrderGateway
	session *entity.Session
	code    string

	mu       sync.Mutex
	order    *entity.Order
	inflight bool
}

func NewOrderAggregate(gw gateway.OrderGateway, session *entity.Session, code string) *OrderAggregate {
	return &OrderAggregate{gw: gw, session: session, code: code}
}

func (a *OrderAggregate) Code() string { return a.code }

// Order returns a copy of the current server-confirmed state, or nil
// before the first successful Load.
func (a *OrderAggregate) Order() *entity.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.order == nil {
		return nil
	}
	copied := *a.order
	return &copied
}

// Load fetches the detail view for the session's role and replaces the
// whole local state. There is no partial merge.
func (a *OrderAggregate) Load(ctx context.Context) error {
	var (
		order *entity.Order
		err   error
	)
	if a.session.Role == entity.RoleProducer {
		order, err = a.gw.GetProducerOrder(ctx, a.session, a.code)
	} else {
		order, err = a.gw.GetMyOrder(ctx, a.session, a.code)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.order = order
	a.mu.Unlock()
	return nil
}

// begin takes the in-flight slot and checks the policy gate. It returns
// the rowVersion to send. Every path out of a mutation must go through
// finish to release the slot.
func (a *OrderAggregate) begin(action policy.Action) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.order == nil {
		return "", apperrors.NotFound("order", nil)
	}
	if a.inflight {
		return "", apperrors.Busy("mutation")
	}
	if !policy.Allows(action, a.order.Status) {
		return "", apperrors.InvalidTransition(string(action), a.order.Status.String())
	}
	a.inflight = true
	return a.order.RowVersion, nil
}

// finish releases the in-flight slot. On success the server response
// becomes the authoritative state; on failure local state is untouched.
func (a *OrderAggregate) finish(updated *entity.Order, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inflight = false
	if err != nil {
		return err
	}
	a.order = updated
	return nil
}

func (a *OrderAggregate) Cancel(ctx context.Context) error {
	rowVersion, err := a.begin(policy.ActionCancel)
	if err != nil {
		return err
	}
	updated, err := a.gw.CancelOrder(ctx, a.session, a.code, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) Accept(ctx context.Context, notes string) error {
	rowVersion, err := a.begin(policy.ActionAccept)
	if err != nil {
		return err
	}
	updated, err := a.gw.AcceptOrder(ctx, a.session, a.code, notes, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) Reject(ctx context.Context, reason string) error {
	rowVersion, err := a.begin(policy.ActionReject)
	if err != nil {
		return err
	}
	if err := validate.Struct(rejectInput{Reason: strings.TrimSpace(reason)}); err != nil {
		return a.finish(nil, apperrors.InvalidInput("rejection reason must be at least 5 characters", err))
	}
	updated, err := a.gw.RejectOrder(ctx, a.session, a.code, reason, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) UploadPayment(ctx context.Context, file gateway.PaymentUpload) error {
	rowVersion, err := a.begin(policy.ActionUploadPayment)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(file.ContentType, "image/") {
		return a.finish(nil, apperrors.InvalidInput("payment proof must be an image", nil))
	}
	if file.Size > MaxPaymentImageSize {
		return a.finish(nil, apperrors.InvalidInput("payment proof must be 6 MB or smaller", nil))
	}
	updated, err := a.gw.UploadPayment(ctx, a.session, a.code, rowVersion, file)
	return a.finish(updated, err)
}

func (a *OrderAggregate) ConfirmReceived(ctx context.Context, answer string) error {
	rowVersion, err := a.begin(policy.ActionConfirmReceipt)
	if err != nil {
		return err
	}
	if err := validate.Struct(confirmInput{Answer: answer}); err != nil {
		return a.finish(nil, apperrors.InvalidInput("answer must be yes or no", err))
	}
	updated, err := a.gw.ConfirmReceived(ctx, a.session, a.code, answer, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) MarkPreparing(ctx context.Context) error {
	rowVersion, err := a.begin(policy.ActionMarkPreparing)
	if err != nil {
		return err
	}
	updated, err := a.gw.MarkPreparing(ctx, a.session, a.code, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) MarkDispatched(ctx context.Context) error {
	rowVersion, err := a.begin(policy.ActionMarkDispatched)
	if err != nil {
		return err
	}
	updated, err := a.gw.MarkDispatched(ctx, a.session, a.code, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) MarkDelivered(ctx context.Context) error {
	rowVersion, err := a.begin(policy.ActionMarkDelivered)
	if err != nil {
		return err
	}
	updated, err := a.gw.MarkDelivered(ctx, a.session, a.code, rowVersion)
	return a.finish(updated, err)
}

func (a *OrderAggregate) RateCustomer(ctx context.Context, rating int, comment string) error {
	rowVersion, err := a.begin(policy.ActionRateCustomer)
	if err != nil {
		return err
	}
	if err := validate.Struct(rateInput{Rating: rating, Comment: comment}); err != nil {
		return a.finish(nil, apperrors.InvalidInput("rating must be between 1 and 5", err))
	}
	updated, err := a.gw.RateCustomer(ctx, a.session, a.code, rating, comment, rowVersion)
	if err != nil {
		logger.Warn("rate customer failed for order %s: %v", a.code, err)
	}
	return a.finish(updated, err)
}
