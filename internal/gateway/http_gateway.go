package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/config"
	apperrors "agromarket/pkg/errors"
	"agromarket/pkg/logger"
	"agromarket/pkg/response"
)

// HTTPGateway implements RemoteGateway against the storefront REST API.
// Every payload travels inside the standard success/error envelope; a 401
// triggers one transparent credential refresh and retry.
type HTTPGateway struct {
	baseURL   string
	streamURL string
	client    *http.Client
}

func NewHTTPGateway(cfg *config.Config) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   cfg.APIBaseURL,
		streamURL: cfg.StreamURL,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (g *HTTPGateway) do(ctx context.Context, s *entity.Session, method, path string, body func() (io.Reader, string, error), out interface{}) error {
	if s.CanRefresh() && s.Expired(time.Now()) {
		if err := s.Refresh(ctx); err != nil {
			return apperrors.Unauthorized("credential refresh failed", err)
		}
	}

	status, payload, err := g.roundTrip(ctx, s, method, path, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && s.CanRefresh() {
		if err := s.Refresh(ctx); err != nil {
			return apperrors.Unauthorized("credential refresh failed", err)
		}
		status, payload, err = g.roundTrip(ctx, s, method, path, body)
		if err != nil {
			return err
		}
	}

	return decodeEnvelope(status, payload, out)
}

func (g *HTTPGateway) roundTrip(ctx context.Context, s *entity.Session, method, path string, body func() (io.Reader, string, error)) (int, []byte, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		var err error
		reader, contentType, err = body()
		if err != nil {
			return 0, nil, apperrors.InvalidInput("could not encode request body", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, apperrors.Internal("could not build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+s.Token())
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, apperrors.Network("request to backend failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperrors.Network("reading backend response failed", err)
	}
	return resp.StatusCode, payload, nil
}

func decodeEnvelope(status int, payload []byte, out interface{}) error {
	var env response.Response
	if err := json.Unmarshal(payload, &env); err != nil {
		if status >= 200 && status < 300 {
			return apperrors.Network("malformed backend response", err)
		}
		return statusError(status, "", "")
	}

	if !env.Success || status < 200 || status >= 300 {
		code, message := "", ""
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		return statusError(status, code, message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Network("malformed backend payload", err)
	}
	return nil
}

func statusError(status int, code, message string) error {
	// The backend names its failures with the same taxonomy; trust the
	// envelope code first and fall back to the HTTP status.
	switch code {
	case apperrors.CodeStaleState:
		return apperrors.StaleState("order")
	case apperrors.CodeNotFound:
		return apperrors.NotFound("order", nil)
	case apperrors.CodeInvalidInput:
		return apperrors.InvalidInput(message, nil)
	case apperrors.CodeInvalidTransition, apperrors.CodeBusy:
		return apperrors.New(code, message, status, nil)
	case apperrors.CodeUnauthorized:
		return apperrors.Unauthorized(message, nil)
	}

	switch status {
	case http.StatusNotFound:
		return apperrors.NotFound("order", nil)
	case http.StatusConflict:
		return apperrors.StaleState("order")
	case http.StatusUnauthorized:
		return apperrors.Unauthorized("credentials rejected by backend", nil)
	case http.StatusBadRequest:
		if message == "" {
			message = "backend rejected the request"
		}
		return apperrors.InvalidInput(message, nil)
	}
	if code == "" {
		code = apperrors.CodeNetworkError
	}
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", status)
	}
	logger.Debug("gateway: unexpected backend status %d (%s)", status, code)
	return apperrors.New(code, message, status, nil)
}

func jsonBody(payload interface{}) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

// rawRowVersionBody matches the backend contract for the bare transition
// endpoints: the body is the rowVersion string itself, JSON-quoted.
func rawRowVersionBody(rowVersion string) func() (io.Reader, string, error) {
	return jsonBody(rowVersion)
}

// Buyer side.

func (g *HTTPGateway) ListMyOrders(ctx context.Context, s *entity.Session) ([]entity.Order, error) {
	var orders []entity.Order
	if err := g.do(ctx, s, http.MethodGet, "/OrderUser/mine", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (g *HTTPGateway) GetMyOrder(ctx context.Context, s *entity.Session, code string) (*entity.Order, error) {
	var order entity.Order
	if err := g.do(ctx, s, http.MethodGet, "/OrderUser/"+url.PathEscape(code)+"/detail", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) CancelOrder(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error) {
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderUser/"+url.PathEscape(code)+"/cancel", rawRowVersionBody(rowVersion), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) UploadPayment(ctx context.Context, s *entity.Session, code, rowVersion string, file PaymentUpload) (*entity.Order, error) {
	// Buffer the image so the multipart body can be rebuilt if the
	// request is retried after a credential refresh.
	content, err := io.ReadAll(file.Content)
	if err != nil {
		return nil, apperrors.InvalidInput("could not read payment image", err)
	}

	body := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := w.WriteField("RowVersion", rowVersion); err != nil {
			return nil, "", err
		}
		part, err := w.CreateFormFile("PaymentImage", file.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderUser/"+url.PathEscape(code)+"/payment", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) ConfirmReceived(ctx context.Context, s *entity.Session, code, answer, rowVersion string) (*entity.Order, error) {
	payload := map[string]string{"answer": answer, "rowVersion": rowVersion}
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderUser/"+url.PathEscape(code)+"/confirm-received", jsonBody(payload), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Producer side.

func (g *HTTPGateway) ListProducerOrders(ctx context.Context, s *entity.Session, filter ProducerFilter) ([]entity.Order, error) {
	path := "/OrderProducer"
	if filter == FilterPending {
		path += "/pending"
	}
	var orders []entity.Order
	if err := g.do(ctx, s, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (g *HTTPGateway) GetProducerOrder(ctx context.Context, s *entity.Session, code string) (*entity.Order, error) {
	var order entity.Order
	if err := g.do(ctx, s, http.MethodGet, "/OrderProducer/"+url.PathEscape(code)+"/detail", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) AcceptOrder(ctx context.Context, s *entity.Session, code, notes, rowVersion string) (*entity.Order, error) {
	payload := map[string]string{"notes": notes, "rowVersion": rowVersion}
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderProducer/"+url.PathEscape(code)+"/accept", jsonBody(payload), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) RejectOrder(ctx context.Context, s *entity.Session, code, reason, rowVersion string) (*entity.Order, error) {
	payload := map[string]string{"reason": reason, "rowVersion": rowVersion}
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderProducer/"+url.PathEscape(code)+"/reject", jsonBody(payload), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) MarkPreparing(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error) {
	return g.transition(ctx, s, code, "preparing", rowVersion)
}

func (g *HTTPGateway) MarkDispatched(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error) {
	return g.transition(ctx, s, code, "dispatched", rowVersion)
}

func (g *HTTPGateway) MarkDelivered(ctx context.Context, s *entity.Session, code, rowVersion string) (*entity.Order, error) {
	return g.transition(ctx, s, code, "delivered", rowVersion)
}

func (g *HTTPGateway) transition(ctx context.Context, s *entity.Session, code, step, rowVersion string) (*entity.Order, error) {
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderProducer/"+url.PathEscape(code)+"/"+step, rawRowVersionBody(rowVersion), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) RateCustomer(ctx context.Context, s *entity.Session, code string, rating int, comment, rowVersion string) (*entity.Order, error) {
	payload := map[string]interface{}{"rating": rating, "comment": comment, "rowVersion": rowVersion}
	var order entity.Order
	if err := g.do(ctx, s, http.MethodPost, "/OrderProducer/"+url.PathEscape(code)+"/rate-customer", jsonBody(payload), &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) GetCustomerRating(ctx context.Context, s *entity.Session, code string) (*entity.CustomerRating, error) {
	var rating entity.CustomerRating
	if err := g.do(ctx, s, http.MethodGet, "/OrderProducer/"+url.PathEscape(code)+"/rate-customer", nil, &rating); err != nil {
		return nil, err
	}
	return &rating, nil
}

// Chat.

func (g *HTTPGateway) GetChatMessages(ctx context.Context, s *entity.Session, code string, skip, take int) (*entity.ChatPage, error) {
	path := fmt.Sprintf("/orders/%s/chat/messages?skip=%d&take=%d", url.PathEscape(code), skip, take)
	var page entity.ChatPage
	if err := g.do(ctx, s, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (g *HTTPGateway) SendChatMessage(ctx context.Context, s *entity.Session, code, text string) (*entity.ChatMessage, error) {
	payload := map[string]string{"message": text}
	var msg entity.ChatMessage
	if err := g.do(ctx, s, http.MethodPost, "/orders/"+url.PathEscape(code)+"/chat/messages", jsonBody(payload), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Notifications.

func (g *HTTPGateway) UnreadNotifications(ctx context.Context, s *entity.Session, take int) ([]entity.Notification, error) {
	var items []entity.Notification
	if err := g.do(ctx, s, http.MethodGet, fmt.Sprintf("/Notification/unread?take=%d", take), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (g *HTTPGateway) NotificationHistory(ctx context.Context, s *entity.Session, page, pageSize int) ([]entity.Notification, error) {
	var items []entity.Notification
	if err := g.do(ctx, s, http.MethodGet, fmt.Sprintf("/Notification/history?page=%d&pageSize=%d", page, pageSize), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (g *HTTPGateway) MarkNotificationRead(ctx context.Context, s *entity.Session, id int64) error {
	return g.do(ctx, s, http.MethodPut, fmt.Sprintf("/Notification/%d/read", id), nil, nil)
}
