package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
	apperrors "agromarket/pkg/errors"
)

type fakeMessageStream struct {
	events    chan entity.ChatMessage
	states    chan gateway.ConnState
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeMessageStream() *fakeMessageStream {
	return &fakeMessageStream{
		events: make(chan entity.ChatMessage, 16),
		states: make(chan gateway.ConnState, 4),
	}
}

func (f *fakeMessageStream) Events() <-chan entity.ChatMessage { return f.events }
func (f *fakeMessageStream) States() <-chan gateway.ConnState  { return f.states }

func (f *fakeMessageStream) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.events)
		close(f.states)
	})
	return nil
}

type fakeChatBackend struct {
	mu        sync.Mutex
	messages  []entity.ChatMessage
	state     entity.ConversationState
	stream    *fakeMessageStream
	pageGate  chan struct{} // when set, page fetches block until closed
	openGate  chan struct{} // when set, stream opens block until closed
	pageCalls int32
	sendCalls int32
	openCalls int32
	sendErr   error
	nextID    int64
}

func newFakeChatBackend(msgs ...entity.ChatMessage) *fakeChatBackend {
	f := &fakeChatBackend{
		messages: msgs,
		state:    entity.ConversationState{IsChatEnabled: true, CanSendMessage: true},
		stream:   newFakeMessageStream(),
	}
	for _, m := range msgs {
		if m.ID > f.nextID {
			f.nextID = m.ID
		}
	}
	return f
}

func (f *fakeChatBackend) GetChatMessages(ctx context.Context, s *entity.Session, code string, skip, take int) (*entity.ChatPage, error) {
	atomic.AddInt32(&f.pageCalls, 1)
	if f.pageGate != nil {
		<-f.pageGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	page := &entity.ChatPage{Total: int64(len(f.messages)), State: f.state}
	if skip < len(f.messages) {
		end := skip + take
		if end > len(f.messages) {
			end = len(f.messages)
		}
		page.Messages = append(page.Messages, f.messages[skip:end]...)
	}
	return page, nil
}

func (f *fakeChatBackend) SendChatMessage(ctx context.Context, s *entity.Session, code, text string) (*entity.ChatMessage, error) {
	atomic.AddInt32(&f.sendCalls, 1)
	if f.sendErr != nil {
		return nil, f.sendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := entity.ChatMessage{
		ID:           f.nextID,
		OrderCode:    code,
		Message:      text,
		SentAtUtc:    time.Now().UTC(),
		SenderUserID: s.UserID,
		IsMine:       true,
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeChatBackend) OpenOrderStream(ctx context.Context, s *entity.Session, code string) (gateway.MessageStream, error) {
	atomic.AddInt32(&f.openCalls, 1)
	if f.openGate != nil {
		<-f.openGate
	}
	return f.stream, nil
}

func msg(id int64, text string) entity.ChatMessage {
	return entity.ChatMessage{ID: id, OrderCode: "ORD-100", Message: text}
}

func readySession(t *testing.T, backend *fakeChatBackend) *ChatSession {
	t.Helper()
	c := NewChatSession(backend, buyerSession(), "ORD-100")
	require.NoError(t, c.LoadInitial(context.Background()))
	require.Equal(t, ChatReady, c.State())
	return c
}

func messageIDs(c *ChatSession) []int64 {
	var ids []int64
	for _, m := range c.Messages() {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestLoadInitialFetchesFirstPageAndFlags(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"), msg(2, "hi"))
	c := readySession(t, backend)

	assert.Equal(t, []int64{1, 2}, messageIDs(c))
	assert.False(t, c.HasMore())
	assert.True(t, c.Conversation().CanSend())
}

func TestDedupAcrossPageAndPush(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"), msg(2, "hi"))
	c := readySession(t, backend)
	require.NoError(t, c.Connect(context.Background()))

	// Message 2 arrives again via push, message 3 is new.
	backend.stream.events <- msg(2, "hi")
	backend.stream.events <- msg(3, "how are you")

	require.Eventually(t, func() bool {
		return len(c.Messages()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, messageIDs(c))

	// Feeding the duplicate once more must change nothing.
	backend.stream.events <- msg(3, "how are you")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3}, messageIDs(c))
}

func TestPushBeforePageLoadKeepsOrdering(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "a"), msg(2, "b"))
	c := readySession(t, backend)
	require.NoError(t, c.Connect(context.Background()))

	// Push outruns an older message that only exists server-side.
	backend.stream.events <- msg(5, "newest")
	require.Eventually(t, func() bool { return len(c.Messages()) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2, 5}, messageIDs(c), "feed stays ordered by id")
}

func TestLoadMoreOverlapGuard(t *testing.T) {
	var msgs []entity.ChatMessage
	for i := int64(1); i <= 4; i++ {
		msgs = append(msgs, msg(i, "m"))
	}
	backend := newFakeChatBackend(msgs...)

	c := NewChatSession(backend, buyerSession(), "ORD-100")
	// First page of 2 so more remain.
	backend.mu.Lock()
	backend.messages = msgs[:2]
	backend.mu.Unlock()
	require.NoError(t, c.LoadInitial(context.Background()))
	backend.mu.Lock()
	backend.messages = msgs
	backend.mu.Unlock()

	c.mu.Lock()
	c.total = 4
	c.mu.Unlock()
	require.True(t, c.HasMore())

	backend.pageGate = make(chan struct{})
	atomic.StoreInt32(&backend.pageCalls, 0)

	done := make(chan error, 2)
	go func() { done <- c.LoadMore(context.Background()) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.pageCalls) == 1
	}, time.Second, 5*time.Millisecond)

	// Second call while the first is in flight is a silent no-op.
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.pageCalls))

	close(backend.pageGate)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{1, 2, 3, 4}, messageIDs(c))
	assert.False(t, c.HasMore())
}

func TestLoadMoreNoOpWhenExhausted(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "only"))
	c := readySession(t, backend)

	atomic.StoreInt32(&backend.pageCalls, 0)
	require.NoError(t, c.LoadMore(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.pageCalls))
}

func TestSendRejectsBlankText(t *testing.T) {
	backend := newFakeChatBackend()
	c := readySession(t, backend)

	for _, text := range []string{"", "   ", "\n\t"} {
		err := c.Send(context.Background(), text)
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput), "text %q", text)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.sendCalls))
}

func TestSendRejectedWhenChatClosed(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"))
	backend.state = entity.ConversationState{
		IsChatEnabled:  true,
		IsChatClosed:   true,
		CanSendMessage: false,
		ClosedReason:   "order completed",
	}
	c := readySession(t, backend)

	err := c.Send(context.Background(), "anyone there?")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.sendCalls), "closed chat must not reach the network")
}

func TestSendFailureAppendsNothing(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"))
	backend.sendErr = apperrors.Network("boom", nil)
	c := readySession(t, backend)

	err := c.Send(context.Background(), "did you get this?")
	assert.True(t, apperrors.Is(err, apperrors.CodeNetworkError))
	assert.Equal(t, []int64{1}, messageIDs(c))

	// Manual resend succeeds once the transport recovers.
	backend.sendErr = nil
	require.NoError(t, c.Send(context.Background(), "did you get this?"))
	assert.Len(t, c.Messages(), 2)
}

func TestConnectOpensOneStreamUnderConcurrentCalls(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"))
	backend.openGate = make(chan struct{})
	c := readySession(t, backend)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.openCalls) == 1
	}, time.Second, 5*time.Millisecond)

	// A second call while the dial is in flight must not open a second
	// stream that would leak when the first lands.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.openCalls))

	close(backend.openGate)
	require.NoError(t, <-done)

	// Connected sessions treat further calls as a no-op too.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.openCalls))
}

func TestConnectRefusedWhenChatDisabled(t *testing.T) {
	backend := newFakeChatBackend()
	backend.state = entity.ConversationState{IsChatEnabled: false}
	c := readySession(t, backend)

	err := c.Connect(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
}

func TestCloseIsTerminal(t *testing.T) {
	backend := newFakeChatBackend(msg(1, "hello"))
	c := readySession(t, backend)
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, ChatClosed, c.State())
	assert.True(t, backend.stream.closed.Load(), "transport must be severed on teardown")

	assert.True(t, apperrors.Is(c.Send(context.Background(), "late"), apperrors.CodeInvalidTransition))
	assert.True(t, apperrors.Is(c.Connect(context.Background()), apperrors.CodeInvalidTransition))
	require.NoError(t, c.Close(), "second close is a no-op")
}
