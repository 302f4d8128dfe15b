package usecase

import (
	"context"
	"sort"
	"sync"

	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
	apperrors "agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// ChatPageSize is the fixed page length for history fetches.
const ChatPageSize = 50

type ChatState string

const (
	ChatIdle    ChatState = "idle"
	ChatLoading ChatState = "loading"
	ChatReady   ChatState = "ready"
	ChatClosed  ChatState = "closed"
)

// ChatSession is the live message feed for one order: paginated history,
// push delivery, and guarded sends. Messages arrive over two channels
// (page fetches and push) with no ordering guarantee between them;
// dedup by message id is the sole correctness mechanism. A closed
// session stays closed; callers build a fresh one to reconnect.
type ChatSession struct {
	gw      gateway.ChatGateway
	session *entity.Session
	code    string

	mu        sync.Mutex
	state     ChatState
	connState gateway.ConnState
	messages  []entity.ChatMessage
	seen      map[int64]struct{}
	total     int64
	conv       entity.ConversationState
	loading    bool
	sending    bool
	connecting bool
	stream     gateway.MessageStream
}

func NewChatSession(gw gateway.ChatGateway, session *entity.Session, orderCode string) *ChatSession {
	return &ChatSession{
		gw:        gw,
		session:   session,
		code:      orderCode,
		state:     ChatIdle,
		connState: gateway.StateDisconnected,
		seen:      make(map[int64]struct{}),
	}
}

func (c *ChatSession) OrderCode() string { return c.code }

func (c *ChatSession) State() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ChatSession) ConnectionState() gateway.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

func (c *ChatSession) Conversation() entity.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}

// Messages returns a copy of the feed, oldest first.
func (c *ChatSession) Messages() []entity.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entity.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *ChatSession) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.messages)) < c.total
}

// LoadInitial fetches the first history page plus the conversation flags.
// Errors surface to the caller with no retry and leave the session Idle.
func (c *ChatSession) LoadInitial(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ChatIdle {
		c.mu.Unlock()
		return apperrors.Busy("chat load")
	}
	c.state = ChatLoading
	c.mu.Unlock()

	page, err := c.gw.GetChatMessages(ctx, c.session, c.code, 0, ChatPageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = ChatIdle
		return err
	}
	c.state = ChatReady
	c.total = page.Total
	c.conv = page.State
	c.mergeLocked(page.Messages...)
	return nil
}

// LoadMore fetches the next page using skip = messages seen so far. The
// backend orders ascending by id, so each page is strictly newer than
// the last. A no-op while another page load is in flight or when the
// history is exhausted.
func (c *ChatSession) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ChatReady || c.loading || int64(len(c.messages)) >= c.total {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	skip := len(c.messages)
	c.mu.Unlock()

	page, err := c.gw.GetChatMessages(ctx, c.session, c.code, skip, ChatPageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		return err
	}
	c.total = page.Total
	c.conv = page.State
	c.mergeLocked(page.Messages...)
	return nil
}

// Connect opens the order's push room. Only attempted once, and only if
// the server's flags permit chat at all.
func (c *ChatSession) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ChatReady {
		c.mu.Unlock()
		return apperrors.InvalidTransition("connect", string(c.state))
	}
	if c.stream != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	if !c.conv.IsChatEnabled || c.conv.IsChatClosed {
		c.mu.Unlock()
		return apperrors.InvalidTransition("connect", "chat disabled or closed")
	}
	c.connecting = true
	c.mu.Unlock()

	stream, err := c.gw.OpenOrderStream(ctx, c.session, c.code)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state == ChatClosed {
		c.mu.Unlock()
		stream.Close()
		return apperrors.InvalidTransition("connect", string(ChatClosed))
	}
	c.stream = stream
	c.mu.Unlock()

	go c.consumeEvents(stream)
	go c.consumeStates(stream)
	return nil
}

func (c *ChatSession) consumeEvents(stream gateway.MessageStream) {
	for msg := range stream.Events() {
		c.mu.Lock()
		c.mergeLocked(msg)
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.connState = gateway.StateDisconnected
	c.mu.Unlock()
}

func (c *ChatSession) consumeStates(stream gateway.MessageStream) {
	for state := range stream.States() {
		c.mu.Lock()
		c.connState = state
		c.mu.Unlock()
	}
}

// Send posts a message. No optimistic echo: the canonical copy arrives
// via the server response or push, whichever lands first, and dedup
// collapses them. On failure nothing is appended and the caller keeps
// the typed text for a manual resend.
func (c *ChatSession) Send(ctx context.Context, text string) error {
	if entity.IsBlankMessage(text) {
		return apperrors.InvalidInput("message text must not be empty", nil)
	}

	c.mu.Lock()
	if c.state != ChatReady {
		c.mu.Unlock()
		return apperrors.InvalidTransition("send", string(c.state))
	}
	if !c.conv.CanSend() {
		c.mu.Unlock()
		return apperrors.InvalidTransition("send", "chat closed")
	}
	if c.sending {
		c.mu.Unlock()
		return apperrors.Busy("send")
	}
	c.sending = true
	c.mu.Unlock()

	msg, err := c.gw.SendChatMessage(ctx, c.session, c.code, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		return err
	}
	c.mergeLocked(*msg)
	return nil
}

// mergeLocked inserts messages keeping ascending id order, silently
// dropping ids already present. Callers hold c.mu.
func (c *ChatSession) mergeLocked(msgs ...entity.ChatMessage) {
	appended := false
	for _, msg := range msgs {
		if _, dup := c.seen[msg.ID]; dup {
			continue
		}
		c.seen[msg.ID] = struct{}{}
		c.messages = append(c.messages, msg)
		appended = true
	}
	if !appended {
		return
	}
	sort.Slice(c.messages, func(i, j int) bool {
		return c.messages[i].ID < c.messages[j].ID
	})
	if int64(len(c.messages)) > c.total {
		c.total = int64(len(c.messages))
	}
}

// Close tears the session down: leave the room, sever the transport,
// enter the terminal state. Safe to call twice.
func (c *ChatSession) Close() error {
	c.mu.Lock()
	if c.state == ChatClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = ChatClosed
	stream := c.stream
	c.stream = nil
	c.connState = gateway.StateDisconnected
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Warn("chat %s: teardown error: %v", c.code, err)
			return err
		}
	}
	return nil
}
