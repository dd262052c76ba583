// Package domain defines the notification outbox.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// Message is a queued notification email. Business flows only ever enqueue;
// delivery happens out of band so a slow or broken mail transport can never
// fail a purchase or a webhook.
type Message struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey"`
	Recipient string        `json:"recipient" gorm:"type:text;not null"`
	Subject   string        `json:"subject" gorm:"type:text;not null"`
	HTMLBody  string        `json:"html_body" gorm:"type:text;not null"`
	Status    MessageStatus `json:"status" gorm:"type:text;not null;index;default:pending"`
	Attempts  int           `json:"attempts" gorm:"not null;default:0"`
	LastError string        `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time     `json:"created_at" gorm:"not null"`
	SentAt    *time.Time    `json:"sent_at"`
}

func (Message) TableName() string { return "outbox_messages" }

type Service interface {
	// Enqueue records a notification for asynchronous delivery. Errors are
	// returned for observability but callers are expected to ignore them.
	Enqueue(ctx context.Context, recipient string, subject string, htmlBody string) error

	// DispatchPending drains up to batch pending messages through the mail
	// provider and reports how many were sent.
	DispatchPending(ctx context.Context, batch int) (int, error)
}
