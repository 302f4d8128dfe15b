package entity

import "time"

// OrderStatus is the server-issued lifecycle state of an order. The set
// below is closed on the backend, but the client must survive values it
// has never seen; unrecognized statuses keep their raw string and are
// handled through the policy package's fallback classification.
type OrderStatus string

const (
	StatusPendingReview                OrderStatus = "PendingReview"
	StatusAcceptedAwaitingPayment      OrderStatus = "AcceptedAwaitingPayment"
	StatusPaymentSubmitted             OrderStatus = "PaymentSubmitted"
	StatusPreparing                    OrderStatus = "Preparing"
	StatusDispatched                   OrderStatus = "Dispatched"
	StatusDeliveredPendingBuyerConfirm OrderStatus = "DeliveredPendingBuyerConfirm"
	StatusCompleted                    OrderStatus = "Completed"
	StatusRejected                     OrderStatus = "Rejected"
	StatusExpired                      OrderStatus = "Expired"
	StatusCancelledByUser              OrderStatus = "CancelledByUser"
	StatusDisputed                     OrderStatus = "Disputed"
)

var knownStatuses = map[OrderStatus]bool{
	StatusPendingReview:                true,
	StatusAcceptedAwaitingPayment:      true,
	StatusPaymentSubmitted:             true,
	StatusPreparing:                    true,
	StatusDispatched:                   true,
	StatusDeliveredPendingBuyerConfirm: true,
	StatusCompleted:                    true,
	StatusRejected:                     true,
	StatusExpired:                      true,
	StatusCancelledByUser:              true,
	StatusDisputed:                     true,
}

func (s OrderStatus) Known() bool {
	return knownStatuses[s]
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusExpired, StatusCancelledByUser, StatusDisputed:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

type Order struct {
	ID                     int64       `json:"id"`
	Code                   string      `json:"code"`
	Status                 OrderStatus `json:"status"`
	RowVersion             string      `json:"rowVersion"`
	Total                  float64     `json:"total"`
	Subtotal               float64     `json:"subtotal"`
	UnitPrice              float64     `json:"unitPrice"`
	QuantityRequested      int         `json:"quantityRequested"`
	RecipientName          string      `json:"recipientName"`
	ContactPhone           string      `json:"contactPhone"`
	AddressLine1           string      `json:"addressLine1"`
	AddressLine2           string      `json:"addressLine2,omitempty"`
	CityID                 int64       `json:"cityId"`
	PaymentImageURL        string      `json:"paymentImageUrl,omitempty"`
	ProducerDecisionReason string      `json:"producerDecisionReason,omitempty"`
	ConsumerRating         *int        `json:"consumerRating,omitempty"`
	CreatedAtUtc           time.Time   `json:"createdAtUtc"`
	UpdatedAtUtc           time.Time   `json:"updatedAtUtc"`
}

// CustomerRating is a producer's review of the buyer, available once an
// order is completed.
type CustomerRating struct {
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	RatedAtUtc time.Time `json:"ratedAtUtc"`
}
