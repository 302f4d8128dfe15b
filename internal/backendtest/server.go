// Package backendtest is an in-memory stand-in for the storefront
// backend: the REST surface, the websocket push channel, and the
// optimistic-concurrency rules the client is written against. The test
// suite and the demo CLI run against it.
package backendtest

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
	apperrors "agromarket/pkg/errors"
	"agromarket/pkg/response"
)

type orderRecord struct {
	order      entity.Order
	buyerID    string
	producerID string
	rating     *entity.CustomerRating
}

type chatRecord struct {
	state    entity.ConversationState
	messages []entity.ChatMessage
}

type Server struct {
	echo   *echo.Echo
	hub    *Hub
	secret []byte

	mu            sync.Mutex
	orders        map[string]*orderRecord
	chats         map[string]*chatRecord
	notifications map[string][]entity.Notification
	failMarkRead  map[int64]bool
	nextMessageID int64
	nextNotifID   int64
}

func NewServer() *Server {
	s := &Server{
		echo:          echo.New(),
		hub:           NewHub(),
		secret:        []byte(uuid.NewString()),
		orders:        make(map[string]*orderRecord),
		chats:         make(map[string]*chatRecord),
		notifications: make(map[string][]entity.Notification),
		failMarkRead:  make(map[int64]bool),
	}
	s.echo.HideBanner = true
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Token issues a signed HS256 access token for userID. Tests use short
// ttls to exercise the refresh path.
func (s *Server) Token(userID string, role entity.Role, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return token
}

// Seeding helpers.

func (s *Server) AddOrder(order entity.Order, buyerID, producerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.RowVersion == "" {
		order.RowVersion = uuid.NewString()
	}
	s.orders[order.Code] = &orderRecord{order: order, buyerID: buyerID, producerID: producerID}
	if _, ok := s.chats[order.Code]; !ok {
		s.chats[order.Code] = &chatRecord{
			state: entity.ConversationState{IsChatEnabled: true, CanSendMessage: true},
		}
	}
}

func (s *Server) SetConversation(code string, state entity.ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat, ok := s.chats[code]; ok {
		chat.state = state
	}
}

// AddMessage appends a message on behalf of senderID and pushes it into
// the order's room, the same way a live counterparty would.
func (s *Server) AddMessage(code, senderID string, senderType entity.SenderType, text string) entity.ChatMessage {
	s.mu.Lock()
	s.nextMessageID++
	msg := entity.ChatMessage{
		ID:           s.nextMessageID,
		OrderCode:    code,
		Message:      text,
		SentAtUtc:    time.Now().UTC(),
		SenderUserID: senderID,
		SenderType:   senderType,
		IsSystem:     senderType == entity.SenderSystem,
	}
	if chat, ok := s.chats[code]; ok {
		chat.messages = append(chat.messages, msg)
	}
	s.mu.Unlock()

	s.hub.BroadcastRoom(code, gateway.MessageTypeMessage, gateway.ReceiveMessageData{
		OrderCode: code,
		Message:   msg,
	})
	return msg
}

// PushMessage re-broadcasts an existing message without storing it,
// for simulating duplicate push deliveries.
func (s *Server) PushMessage(code string, msg entity.ChatMessage) {
	s.hub.BroadcastRoom(code, gateway.MessageTypeMessage, gateway.ReceiveMessageData{
		OrderCode: code,
		Message:   msg,
	})
}

func (s *Server) AddNotification(userID string, n entity.Notification) entity.Notification {
	s.mu.Lock()
	if n.ID == 0 {
		s.nextNotifID++
		n.ID = s.nextNotifID
	}
	if n.CreateAt.IsZero() {
		n.CreateAt = time.Now().UTC()
	}
	s.notifications[userID] = append(s.notifications[userID], n)
	s.mu.Unlock()

	s.hub.SendToUser(userID, gateway.MessageTypeNotification, n)
	return n
}

// FailMarkRead makes the next mark-read calls for id answer 500.
func (s *Server) FailMarkRead(id int64) {
	s.mu.Lock()
	s.failMarkRead[id] = true
	s.mu.Unlock()
}

// Order returns a copy of the stored order, for assertions.
func (s *Server) Order(code string) (entity.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[code]
	if !ok {
		return entity.Order{}, false
	}
	return rec.order, true
}

// Routing and auth.

func (s *Server) routes() {
	e := s.echo
	g := e.Group("", s.authMiddleware)

	g.GET("/OrderUser/mine", s.listMyOrders)
	g.GET("/OrderUser/:code/detail", s.orderDetail(false))
	g.POST("/OrderUser/:code/cancel", s.cancelOrder)
	g.POST("/OrderUser/:code/payment", s.uploadPayment)
	g.POST("/OrderUser/:code/confirm-received", s.confirmReceived)

	g.GET("/OrderProducer", s.listProducerOrders(gateway.FilterAll))
	g.GET("/OrderProducer/pending", s.listProducerOrders(gateway.FilterPending))
	g.GET("/OrderProducer/:code/detail", s.orderDetail(true))
	g.POST("/OrderProducer/:code/accept", s.acceptOrder)
	g.POST("/OrderProducer/:code/reject", s.rejectOrder)
	g.POST("/OrderProducer/:code/preparing", s.step(entity.StatusPaymentSubmitted, entity.StatusPreparing))
	g.POST("/OrderProducer/:code/dispatched", s.step(entity.StatusPreparing, entity.StatusDispatched))
	g.POST("/OrderProducer/:code/delivered", s.step(entity.StatusDispatched, entity.StatusDeliveredPendingBuyerConfirm))
	g.POST("/OrderProducer/:code/rate-customer", s.rateCustomer)
	g.GET("/OrderProducer/:code/rate-customer", s.getCustomerRating)

	g.GET("/orders/:code/chat/messages", s.chatMessages)
	g.POST("/orders/:code/chat/messages", s.sendChatMessage)

	g.GET("/Notification/unread", s.unreadNotifications)
	g.GET("/Notification/history", s.notificationHistory)
	g.PUT("/Notification/:id/read", s.markNotificationRead)

	g.GET("/ws", s.serveWS)
}

func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == "" || raw == header {
			return response.Error(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "missing bearer token")
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			return response.Error(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid or expired token")
		}

		sub, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		c.Set("userID", sub)
		c.Set("role", role)
		return next(c)
	}
}

func userID(c echo.Context) string {
	uid, _ := c.Get("userID").(string)
	return uid
}

func userRole(c echo.Context) entity.Role {
	role, _ := c.Get("role").(string)
	return entity.Role(role)
}

// Order handlers.

func (s *Server) listMyOrders(c echo.Context) error {
	uid := userID(c)
	s.mu.Lock()
	orders := []entity.Order{}
	for _, rec := range s.orders {
		if rec.buyerID == uid {
			orders = append(orders, rec.order)
		}
	}
	s.mu.Unlock()
	sortOrders(orders)
	return response.Success(c, orders)
}

func (s *Server) listProducerOrders(filter gateway.ProducerFilter) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid := userID(c)
		s.mu.Lock()
		orders := []entity.Order{}
		for _, rec := range s.orders {
			if rec.producerID != uid {
				continue
			}
			if filter == gateway.FilterPending && rec.order.Status != entity.StatusPendingReview {
				continue
			}
			orders = append(orders, rec.order)
		}
		s.mu.Unlock()
		sortOrders(orders)
		return response.Success(c, orders)
	}
}

func sortOrders(orders []entity.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}

func (s *Server) orderDetail(producer bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		rec, err := s.ownedOrder(c, producer)
		if err != nil {
			return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "order not found")
		}
		return response.Success(c, rec.order)
	}
}

// ownedOrder resolves :code for the caller, treating foreign orders as
// missing rather than forbidden. Callers hold s.mu.
func (s *Server) ownedOrder(c echo.Context, producer bool) (*orderRecord, error) {
	rec, ok := s.orders[c.Param("code")]
	if !ok {
		return nil, echo.ErrNotFound
	}
	uid := userID(c)
	if producer && rec.producerID != uid {
		return nil, echo.ErrNotFound
	}
	if !producer && rec.buyerID != uid {
		return nil, echo.ErrNotFound
	}
	return rec, nil
}

// mutate applies fn to the caller's order after the rowVersion and
// current-status checks pass, then bumps the concurrency token.
func (s *Server) mutate(c echo.Context, producer bool, rowVersion string, from entity.OrderStatus, fn func(*orderRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.ownedOrder(c, producer)
	if err != nil {
		return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "order not found")
	}
	if rec.order.RowVersion != rowVersion {
		return response.Error(c, http.StatusConflict, apperrors.CodeStaleState, "row version mismatch")
	}
	if from != "" && rec.order.Status != from {
		return response.Error(c, http.StatusConflict, apperrors.CodeInvalidTransition, "order is not in a valid status for this action")
	}

	fn(rec)
	rec.order.RowVersion = uuid.NewString()
	rec.order.UpdatedAtUtc = time.Now().UTC()
	return response.Success(c, rec.order)
}

func (s *Server) cancelOrder(c echo.Context) error {
	var rowVersion string
	if err := c.Bind(&rowVersion); err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "body must be the row version string")
	}
	return s.mutate(c, false, rowVersion, entity.StatusPendingReview, func(rec *orderRecord) {
		rec.order.Status = entity.StatusCancelledByUser
	})
}

func (s *Server) uploadPayment(c echo.Context) error {
	rowVersion := c.FormValue("RowVersion")
	file, err := c.FormFile("PaymentImage")
	if err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "payment image is required")
	}
	return s.mutate(c, false, rowVersion, entity.StatusAcceptedAwaitingPayment, func(rec *orderRecord) {
		rec.order.Status = entity.StatusPaymentSubmitted
		rec.order.PaymentImageURL = "/uploads/" + uuid.NewString() + "/" + file.Filename
	})
}

func (s *Server) confirmReceived(c echo.Context) error {
	var body struct {
		Answer     string `json:"answer"`
		RowVersion string `json:"rowVersion"`
	}
	if err := c.Bind(&body); err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "malformed body")
	}
	if body.Answer != "yes" && body.Answer != "no" {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "answer must be yes or no")
	}
	return s.mutate(c, false, body.RowVersion, entity.StatusDeliveredPendingBuyerConfirm, func(rec *orderRecord) {
		if body.Answer == "yes" {
			rec.order.Status = entity.StatusCompleted
		} else {
			rec.order.Status = entity.StatusDisputed
		}
	})
}

func (s *Server) acceptOrder(c echo.Context) error {
	var body struct {
		Notes      string `json:"notes"`
		RowVersion string `json:"rowVersion"`
	}
	if err := c.Bind(&body); err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "malformed body")
	}
	return s.mutate(c, true, body.RowVersion, entity.StatusPendingReview, func(rec *orderRecord) {
		rec.order.Status = entity.StatusAcceptedAwaitingPayment
	})
}

func (s *Server) rejectOrder(c echo.Context) error {
	var body struct {
		Reason     string `json:"reason"`
		RowVersion string `json:"rowVersion"`
	}
	if err := c.Bind(&body); err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "malformed body")
	}
	if len(strings.TrimSpace(body.Reason)) < 5 {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "reason must be at least 5 characters")
	}
	return s.mutate(c, true, body.RowVersion, entity.StatusPendingReview, func(rec *orderRecord) {
		rec.order.Status = entity.StatusRejected
		rec.order.ProducerDecisionReason = body.Reason
	})
}

func (s *Server) step(from, to entity.OrderStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		var rowVersion string
		if err := c.Bind(&rowVersion); err != nil {
			return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "body must be the row version string")
		}
		return s.mutate(c, true, rowVersion, from, func(rec *orderRecord) {
			rec.order.Status = to
		})
	}
}

func (s *Server) rateCustomer(c echo.Context) error {
	var body struct {
		Rating     int    `json:"rating"`
		Comment    string `json:"comment"`
		RowVersion string `json:"rowVersion"`
	}
	if err := c.Bind(&body); err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "malformed body")
	}
	if body.Rating < 1 || body.Rating > 5 {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "rating must be between 1 and 5")
	}
	return s.mutate(c, true, body.RowVersion, entity.StatusCompleted, func(rec *orderRecord) {
		rating := body.Rating
		rec.order.ConsumerRating = &rating
		rec.rating = &entity.CustomerRating{
			Rating:     body.Rating,
			Comment:    body.Comment,
			RatedAtUtc: time.Now().UTC(),
		}
	})
}

func (s *Server) getCustomerRating(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.ownedOrder(c, true)
	if err != nil || rec.rating == nil {
		return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "rating not found")
	}
	return response.Success(c, rec.rating)
}

// Chat handlers.

func (s *Server) chatMessages(c echo.Context) error {
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	take, _ := strconv.Atoi(c.QueryParam("take"))
	if take <= 0 || take > 100 {
		take = 50
	}
	if skip < 0 {
		skip = 0
	}

	uid := userID(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[c.Param("code")]
	if !ok {
		return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "conversation not found")
	}

	page := entity.ChatPage{Total: int64(len(chat.messages)), State: chat.state, Messages: []entity.ChatMessage{}}
	if skip < len(chat.messages) {
		end := skip + take
		if end > len(chat.messages) {
			end = len(chat.messages)
		}
		for _, msg := range chat.messages[skip:end] {
			msg.IsMine = msg.SenderUserID == uid
			page.Messages = append(page.Messages, msg)
		}
	}
	return response.Success(c, page)
}

func (s *Server) sendChatMessage(c echo.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil || entity.IsBlankMessage(body.Message) {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "message must not be empty")
	}

	code := c.Param("code")
	uid := userID(c)
	senderType := entity.SenderCustomer
	if userRole(c) == entity.RoleProducer {
		senderType = entity.SenderProducer
	}

	s.mu.Lock()
	chat, ok := s.chats[code]
	if !ok {
		s.mu.Unlock()
		return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "conversation not found")
	}
	if !chat.state.CanSend() {
		s.mu.Unlock()
		return response.Error(c, http.StatusConflict, apperrors.CodeInvalidTransition, "conversation does not accept messages")
	}
	s.nextMessageID++
	msg := entity.ChatMessage{
		ID:           s.nextMessageID,
		OrderCode:    code,
		Message:      body.Message,
		SentAtUtc:    time.Now().UTC(),
		SenderUserID: uid,
		SenderType:   senderType,
	}
	chat.messages = append(chat.messages, msg)
	s.mu.Unlock()

	s.hub.BroadcastRoom(code, gateway.MessageTypeMessage, gateway.ReceiveMessageData{
		OrderCode: code,
		Message:   msg,
	})

	msg.IsMine = true
	return response.Success(c, msg)
}

// Notification handlers.

func (s *Server) unreadNotifications(c echo.Context) error {
	take, _ := strconv.Atoi(c.QueryParam("take"))
	if take <= 0 {
		take = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	items := []entity.Notification{}
	all := s.notifications[userID(c)]
	for i := len(all) - 1; i >= 0 && len(items) < take; i-- {
		if !all[i].IsRead {
			items = append(items, all[i])
		}
	}
	return response.Success(c, items)
}

func (s *Server) notificationHistory(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.notifications[userID(c)]
	newest := make([]entity.Notification, len(all))
	for i, n := range all {
		newest[len(all)-1-i] = n
	}

	start := (page - 1) * pageSize
	if start >= len(newest) {
		return response.Success(c, []entity.Notification{})
	}
	end := start + pageSize
	if end > len(newest) {
		end = len(newest)
	}
	return response.Success(c, newest[start:end])
}

func (s *Server) markNotificationRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return response.Error(c, http.StatusBadRequest, apperrors.CodeInvalidInput, "malformed notification id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkRead[id] {
		return response.Error(c, http.StatusInternalServerError, apperrors.CodeInternal, "storage failure")
	}
	all := s.notifications[userID(c)]
	for i := range all {
		if all[i].ID == id {
			all[i].IsRead = true
			return response.Success(c, all[i])
		}
	}
	return response.Error(c, http.StatusNotFound, apperrors.CodeNotFound, "notification not found")
}

// Websocket endpoint.

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) serveWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		UserID: userID(c),
		conn:   conn,
		send:   make(chan []byte, 64),
		hub:    s.hub,
	}
	s.hub.register(client)
	go client.writePump()
	go client.readPump()
	return nil
}
