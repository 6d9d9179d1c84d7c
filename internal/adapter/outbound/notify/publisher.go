package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/virapa/AjaxSecurFlow/internal/domain/notification"
)

// LogPublisher writes notifications to the log. Used when no other sink is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, n notification.Notification) error {
	p.logger.Info("notification",
		"recipient", n.Recipient,
		"type", n.Type,
		"title", n.Title,
	)
	return nil
}

// Fanout publishes to every sink and joins their errors.
type Fanout []notification.Publisher

func (f Fanout) Publish(ctx context.Context, n notification.Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ notification.Publisher = (*LogPublisher)(nil)
	_ notification.Publisher = Fanout(nil)
)
