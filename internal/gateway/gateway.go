// Package gateway is the module's only door to the backend: a REST
// surface for reads and guarded mutations, and a websocket surface for
// order-scoped chat rooms and user-scoped notifications.
package gateway

import (
	"context"
	"io"

	"agromarket/internal/domain/entity"
)

type ProducerFilter string

const (
	FilterAll     ProducerFilter = "all"
	FilterPending ProducerFilter = "pending"
)

// PaymentUpload is a proof-of-payment image. Size and ContentType are
// validated by the aggregate before the upload is attempted.
type PaymentUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

type OrderGateway interface {
	// Buyer side.
	ListMyOrders(ctx context.Context, s *entity.Session) ([]entity.Order, error)
	GetMyOrder(ctx context.Context, s *entity.Session, code string) (*entity.Order, error)
	CancelOrder(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error)
	UploadPayment(ctx context.Context, s *entity.Session, code, rowVersion string, file PaymentUpload) (*entity.Order, error)
	ConfirmReceived(ctx context.Context, s *entity.Session, code, answer, rowVersion string) (*entity.Order, error)

	// Producer side.
	ListProducerOrders(ctx context.Context, s *entity.Session, filter ProducerFilter) ([]entity.Order, error)
	GetProducerOrder(ctx context.Context, s *entity.Session, code string) (*entity.Order, error)
	AcceptOrder(ctx context.Context, s *entity.Session, code, notes, rowVersion string) (*entity.Order, error)
	RejectOrder(ctx context.Context, s *entity.Session, code, reason, rowVersion string) (*entity.Order, error)
	MarkPreparing(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error)
	MarkDispatched(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error)
	MarkDelivered(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error)
	RateCustomer(ctx context.Context, s *entity.Session, code string, rating int, comment, rowVersion string) (*entity.Order, error)
	GetCustomerRating(ctx context.Context, s *entity.Session, code string) (*entity.CustomerRating, error)
}

type ChatGateway interface {
	GetChatMessages(ctx context.Context, s *entity.Session, code string, skip, take int) (*entity.ChatPage, error)
	SendChatMessage(ctx context.Context, s *entity.Session, code, text string) (*entity.ChatMessage, error)
	OpenOrderStream(ctx context.Context, s *entity.Session, code string) (MessageStream, error)
}

type NotificationGateway interface {
	UnreadNotifications(ctx context.Context, s *entity.Session, take int) ([]entity.Notification, error)
	NotificationHistory(ctx context.Context, s *entity.Session, page, pageSize int) ([]entity.Notification, error)
	MarkNotificationRead(ctx context.Context, s *entity.Session, id int64) error
	OpenNotificationStream(ctx context.Context, s *entity.Session) (NotificationStream, error)
}

// RemoteGateway is the full backend surface consumed by the usecase layer.
type RemoteGateway interface {
	OrderGateway
	ChatGateway
	NotificationGateway
}

type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateReconnecting ConnState = "reconnecting"
)

// MessageStream delivers push messages for a single order's room.
// Events is closed when the stream ends for good. Delivery ordering
// relative to paginated fetches is NOT guaranteed; consumers dedup by
// message id.
type MessageStream interface {
	Events() <-chan entity.ChatMessage
	States() <-chan ConnState
	Close() error
}

// NotificationStream delivers push notifications for the session's user.
type NotificationStream interface {
	Events() <-chan entity.Notification
	States() <-chan ConnState
	Close() error
}
