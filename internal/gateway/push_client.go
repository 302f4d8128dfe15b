package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agromarket/internal/domain/entity"
	apperrors "agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// Websocket frame types shared with the backend.
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeJoinRoom     = "join_room"
	MessageTypeLeaveRoom    = "leave_room"
	MessageTypeMessage      = "message"
	MessageTypeNotification = "notification"
)

type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type RoomData struct {
	OrderCode string `json:"orderCode"`
}

type ReceiveMessageData struct {
	OrderCode string             `json:"orderCode"`
	Message   entity.ChatMessage `json:"message"`
}

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
	pingInterval       = 30 * time.Second
)

// pushConn owns one websocket connection and its reconnect loop. The
// reconnect policy lives here so the usecase layer only ever observes
// connected/reconnecting/disconnected states.
type pushConn struct {
	url    string
	token  string
	onOpen func(*websocket.Conn) error
	frames chan WSMessage
	states chan ConnState

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func dialPush(ctx context.Context, streamURL string, s *entity.Session, onOpen func(*websocket.Conn) error) (*pushConn, error) {
	p := &pushConn{
		url:    streamURL,
		token:  s.Token(),
		onOpen: onOpen,
		frames: make(chan WSMessage, 64),
		states: make(chan ConnState, 8),
		done:   make(chan struct{}),
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, apperrors.Network("could not open push connection", err)
	}
	p.setConn(conn)
	p.notify(StateConnected)

	go p.readLoop()
	go p.pingLoop()
	return p, nil
}

func (p *pushConn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, header)
	if err != nil {
		return nil, err
	}
	if p.onOpen != nil {
		if err := p.onOpen(conn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (p *pushConn) setConn(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func (p *pushConn) current() *websocket.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *pushConn) notify(state ConnState) {
	select {
	case p.states <- state:
	default:
	}
}

func (p *pushConn) readLoop() {
	defer close(p.frames)

	for {
		conn := p.current()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				p.notify(StateDisconnected)
				return
			default:
			}
			if !p.reconnect() {
				p.notify(StateDisconnected)
				return
			}
			continue
		}

		var frame WSMessage
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("push: dropping malformed frame: %v", err)
			continue
		}
		if frame.Type == MessageTypePong {
			continue
		}
		select {
		case p.frames <- frame:
		default:
			logger.Warn("push: frame buffer full, dropping %s frame", frame.Type)
		}
	}
}

// reconnect redials with capped exponential backoff until it succeeds or
// the connection is closed. Returns false once closed.
func (p *pushConn) reconnect() bool {
	p.notify(StateReconnecting)
	delay := reconnectBaseDelay
	for {
		select {
		case <-p.done:
			return false
		case <-time.After(delay):
		}

		conn, err := p.dial(context.Background())
		if err == nil {
			p.setConn(conn)
			p.notify(StateConnected)
			return true
		}
		logger.Debug("push: reconnect failed: %v", err)
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (p *pushConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.send(WSMessage{Type: MessageTypePing})
		}
	}
}

func (p *pushConn) send(frame WSMessage) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, raw)
}

func (p *pushConn) close(farewell *WSMessage) error {
	var err error
	p.closeOnce.Do(func() {
		if farewell != nil {
			if sendErr := p.send(*farewell); sendErr != nil {
				logger.Debug("push: farewell frame failed: %v", sendErr)
			}
		}
		close(p.done)
		err = p.current().Close()
	})
	return err
}

// orderStream is a MessageStream scoped to one order's room.
type orderStream struct {
	code   string
	conn   *pushConn
	events chan entity.ChatMessage
}

func (g *HTTPGateway) OpenOrderStream(ctx context.Context, s *entity.Session, code string) (MessageStream, error) {
	join := func(c *websocket.Conn) error {
		return writeFrame(c, MessageTypeJoinRoom, RoomData{OrderCode: code})
	}
	conn, err := dialPush(ctx, g.streamURL, s, join)
	if err != nil {
		return nil, err
	}

	st := &orderStream{
		code:   code,
		conn:   conn,
		events: make(chan entity.ChatMessage, 64),
	}
	go st.pump()
	return st, nil
}

func (st *orderStream) pump() {
	defer close(st.events)
	for frame := range st.conn.frames {
		if frame.Type != MessageTypeMessage {
			continue
		}
		var data ReceiveMessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("push: dropping malformed chat message: %v", err)
			continue
		}
		// The room is order-scoped already; the code check guards
		// against server-side routing mistakes.
		if data.OrderCode != st.code {
			continue
		}
		st.events <- data.Message
	}
}

func (st *orderStream) Events() <-chan entity.ChatMessage { return st.events }
func (st *orderStream) States() <-chan ConnState          { return st.conn.states }

func (st *orderStream) Close() error {
	leave := WSMessage{Type: MessageTypeLeaveRoom}
	if raw, err := json.Marshal(RoomData{OrderCode: st.code}); err == nil {
		leave.Data = raw
	}
	return st.conn.close(&leave)
}

// notificationStream is user-scoped; the server routes by the token
// presented at dial time, so there is no room to join.
type notificationStream struct {
	conn   *pushConn
	events chan entity.Notification
}

func (g *HTTPGateway) OpenNotificationStream(ctx context.Context, s *entity.Session) (NotificationStream, error) {
	conn, err := dialPush(ctx, g.streamURL, s, nil)
	if err != nil {
		return nil, err
	}

	st := &notificationStream{
		conn:   conn,
		events: make(chan entity.Notification, 64),
	}
	go st.pump()
	return st, nil
}

func (st *notificationStream) pump() {
	defer close(st.events)
	for frame := range st.conn.frames {
		if frame.Type != MessageTypeNotification {
			continue
		}
		var n entity.Notification
		if err := json.Unmarshal(frame.Data, &n); err != nil {
			logger.Warn("push: dropping malformed notification: %v", err)
			continue
		}
		st.events <- n
	}
}

func (st *notificationStream) Events() <-chan entity.Notification { return st.events }
func (st *notificationStream) States() <-chan ConnState           { return st.conn.states }

func (st *notificationStream) Close() error {
	return st.conn.close(nil)
}

func writeFrame(conn *websocket.Conn, frameType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame := WSMessage{
		Type:      frameType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
