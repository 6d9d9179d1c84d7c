// Package notify delivers user notifications: persisted for the in-app
// inbox, streamed to Kafka for downstream consumers, or logged.
package notify

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/virapa/AjaxSecurFlow/internal/adapter/outbound/database"
	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
)

// Store persists notifications through gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a notification store. The schema must already be
// migrated (see database.Open).
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Publish inserts n as unread.
func (s *Store) Publish(ctx context.Context, n notification.Notification) error {
	row := database.Notification{
		Recipient: n.Recipient,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		CreatedAt: n.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Unread returns up to limit unread notifications for recipient, newest
// first.
func (s *Store) Unread(ctx context.Context, recipient string, limit int) ([]notification.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []database.Notification
	err := s.db.WithContext(ctx).
		Where("recipient = ? AND is_read = ?", recipient, false).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	out := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, notification.Notification{
			Recipient: r.Recipient,
			Title:     r.Title,
			Message:   r.Message,
			Type:      notification.Type(r.Type),
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// MarkAllRead marks every notification for recipient as read and returns
// how many changed.
func (s *Store) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&database.Notification{}).
		Where("recipient = ? AND is_read = ?", recipient, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var _ notification.Publisher = (*Store)(nil)
