package usecase

import (
	"context"
	"sync"

	"agromarket/internal/domain/entity"
	"agromarket/internal/gateway"
	"agromarket/pkg/logger"
)

const (
	// BadgeFeedCap bounds the dropdown/badge feed.
	BadgeFeedCap = 20
	// PageFeedCap bounds the full inbox page.
	PageFeedCap = 50
)

// NotificationFeed is a capped, newest-first inbox. Push deliveries are
// merged by id; entries past the cap are silently dropped, which is
// documented lossy behavior, not a bug. Mark-read is uniformly
// optimistic: the local flip happens immediately and is reverted if the
// server refuses it.
type NotificationFeed struct {
	gw      gateway.NotificationGateway
	session *entity.Session
	cap     int

	mu      sync.Mutex
	items   []entity.Notification
	opening bool
	stream  gateway.NotificationStream
}

func NewBadgeFeed(gw gateway.NotificationGateway, session *entity.Session) *NotificationFeed {
	return newFeed(gw, session, BadgeFeedCap)
}

func NewPageFeed(gw gateway.NotificationGateway, session *entity.Session) *NotificationFeed {
	return newFeed(gw, session, PageFeedCap)
}

func newFeed(gw gateway.NotificationGateway, session *entity.Session, cap int) *NotificationFeed {
	return &NotificationFeed{gw: gw, session: session, cap: cap}
}

func (f *NotificationFeed) Items() []entity.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entity.Notification, len(f.items))
	copy(out, f.items)
	return out
}

func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// LoadUnread replaces the feed with the latest unread notifications.
func (f *NotificationFeed) LoadUnread(ctx context.Context, take int) error {
	items, err := f.gw.UnreadNotifications(ctx, f.session, take)
	if err != nil {
		return err
	}
	f.replace(items)
	return nil
}

// LoadAll replaces the feed with recent history. On failure it degrades
// to the unread list instead of surfacing the error immediately; only a
// failed fallback is reported.
func (f *NotificationFeed) LoadAll(ctx context.Context, take int) error {
	items, err := f.gw.NotificationHistory(ctx, f.session, 1, take)
	if err != nil {
		logger.Warn("notification history failed, falling back to unread: %v", err)
		return f.LoadUnread(ctx, take)
	}
	f.replace(items)
	return nil
}

func (f *NotificationFeed) replace(items []entity.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(items) > f.cap {
		items = items[:f.cap]
	}
	f.items = items
}

// Merge prepends a pushed notification, deduping by id and trimming the
// oldest entries past the cap.
func (f *NotificationFeed) Merge(n entity.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == n.ID {
			return
		}
	}
	f.items = append([]entity.Notification{n}, f.items...)
	if len(f.items) > f.cap {
		f.items = f.items[:f.cap]
	}
}

// StartPush opens the user-scoped push stream and merges deliveries as
// they arrive.
func (f *NotificationFeed) StartPush(ctx context.Context) error {
	f.mu.Lock()
	if f.stream != nil || f.opening {
		f.mu.Unlock()
		return nil
	}
	f.opening = true
	f.mu.Unlock()

	stream, err := f.gw.OpenNotificationStream(ctx, f.session)

	f.mu.Lock()
	f.opening = false
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.stream = stream
	f.mu.Unlock()

	go func() {
		for n := range stream.Events() {
			f.Merge(n)
		}
	}()
	return nil
}

// StopPush severs the push stream. The feed itself stays usable.
func (f *NotificationFeed) StopPush() {
	f.mu.Lock()
	stream := f.stream
	f.stream = nil
	f.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// MarkRead flips the item locally first, then confirms with the server.
// A refusal reverts the flip and surfaces the error. Mark-read is
// idempotent server-side, so the optimistic window is harmless.
func (f *NotificationFeed) MarkRead(ctx context.Context, id int64) error {
	if !f.flip(id, true) {
		return nil
	}
	if err := f.gw.MarkNotificationRead(ctx, f.session, id); err != nil {
		f.flip(id, false)
		return err
	}
	return nil
}

// flip sets the read state of id and reports whether anything changed.
func (f *NotificationFeed) flip(id int64, read bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].IsRead != read {
			f.items[i].IsRead = read
			return true
		}
	}
	return false
}

// MarkAllRead fires one request per unread item in parallel and waits
// for all of them to settle. Items whose request failed revert to unread
// with no automatic re-attempt; failures are logged, never returned.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) {
	f.mu.Lock()
	var unread []int64
	for _, item := range f.items {
		if !item.IsRead {
			unread = append(unread, item.ID)
		}
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range unread {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := f.MarkRead(ctx, id); err != nil {
				logger.Warn("mark-all-read: notification %d stays unread: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}
