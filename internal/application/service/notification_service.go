package service

import (
	"context"
	"fmt"

	"github.com/stagecraft/approvalflow/internal/application/port"
)

// NotificationService drains the outbox. Rows are queued inside engine
// transactions and delivered here after commit, so recipients never hear
// about changes that rolled back.
type NotificationService interface {
	ProcessPending(ctx context.Context) (int, error)
}

type notificationServiceImpl struct {
	outboxRepo port.NotificationRepository
	notifier   port.Notifier
	logger     Logger
	batchSize  int
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(outboxRepo port.NotificationRepository, notifier port.Notifier, logger Logger, batchSize int) NotificationService {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &notificationServiceImpl{
		outboxRepo: outboxRepo,
		notifier:   notifier,
		logger:     logger,
		batchSize:  batchSize,
	}
}

// ProcessPending delivers one batch of pending notifications and returns how
// many were sent. Delivery failures mark the row FAILED with the error; they
// never stop the batch.
func (s *notificationServiceImpl) ProcessPending(ctx context.Context) (int, error) {
	pending, err := s.outboxRepo.GetPending(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error("Notification delivery failed",
				"notification_id", n.ID, "recipient", n.RecipientID, "error", err)
			if markErr := s.outboxRepo.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
				s.logger.Error("Failed to mark notification failed", "notification_id", n.ID, "error", markErr)
			}
			continue
		}
		if err := s.outboxRepo.MarkSent(ctx, n.ID); err != nil {
			s.logger.Error("Failed to mark notification sent", "notification_id", n.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

var _ NotificationService = (*notificationServiceImpl)(nil)
