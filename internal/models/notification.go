package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationOrderPlaced    NotificationType = "order_placed"
	NotificationOrderCancelled NotificationType = "order_cancelled"
)

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	OrderID   uuid.UUID        `json:"order_id"`
	Type      NotificationType `json:"type"`
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject"`
	Status    string           `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type EmailNotificationRequest struct {
	To          string   `json:"to" validate:"required,email"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject" validate:"required"`
	Content     string   `json:"content" validate:"required"`
	HTMLContent string   `json:"html_content,omitempty"`
}
