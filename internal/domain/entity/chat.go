package entity

import (
	"strings"
	"time"
)

type SenderType string

const (
	SenderCustomer SenderType = "CUSTOMER"
	SenderProducer SenderType = "PRODUCER"
	SenderSystem   SenderType = "SYSTEM"
)

// ChatMessage ids are assigned by the server and increase monotonically
// within one conversation. The id doubles as ordering key and dedup key.
type ChatMessage struct {
	ID           int64      `json:"id"`
	OrderCode    string     `json:"orderCode"`
	Message      string     `json:"message"`
	SentAtUtc    time.Time  `json:"sentAtUtc"`
	SenderUserID string     `json:"senderUserId"`
	SenderType   SenderType `json:"senderType"`
	IsSystem     bool       `json:"isSystem"`
	IsMine       bool       `json:"isMine"`
}

// ConversationState carries the server's authoritative chat flags for one
// order. The flags can change server-side at any time (chat auto-closes
// when an order completes), so they are re-fetched on every page load.
type ConversationState struct {
	IsChatEnabled  bool       `json:"isChatEnabled"`
	IsChatClosed   bool       `json:"isChatClosed"`
	CanSendMessage bool       `json:"canSendMessages"`
	DisabledReason string     `json:"disabledReason,omitempty"`
	ClosedReason   string     `json:"closedReason,omitempty"`
	ClosedAtUtc    *time.Time `json:"closedAtUtc,omitempty"`
}

// CanSend enforces the invariant that sending requires an enabled, open
// conversation even if the server's canSendMessages flag disagrees.
func (s ConversationState) CanSend() bool {
	return s.CanSendMessage && s.IsChatEnabled && !s.IsChatClosed
}

type ChatPage struct {
	Messages []ChatMessage     `json:"messages"`
	Total    int64             `json:"total"`
	State    ConversationState `json:"conversationState"`
}

// IsBlankMessage reports whether text is empty or whitespace-only.
func IsBlankMessage(text string) bool {
	return strings.TrimSpace(text) == ""
}
