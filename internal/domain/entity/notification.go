package entity

import "time"

type Notification struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	IsRead       bool      `json:"isRead"`
	CreateAt     time.Time `json:"createAt"`
	RelatedRoute string    `json:"relatedRoute,omitempty"`
}
