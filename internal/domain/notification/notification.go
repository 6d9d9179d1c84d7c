// Package notification defines soft, user-facing security notifications.
package notification

import (
	"context"
	"time"
)

// Type classifies a notification for display.
type Type string

const (
	TypeInfo     Type = "info"
	TypeWarning  Type = "warning"
	TypeSecurity Type = "security"
)

// Notification is a message addressed to one tenant.
type Notification struct {
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher delivers notifications. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}
