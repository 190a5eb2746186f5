package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// NotificationRepository implements port.NotificationRepository, the
// transactional outbox.
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create queues one notification row.
func (r *NotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	if notification.Status == "" {
		notification.Status = entity.NotificationPending
	}
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO notifications (
			instance_id, assignment_id, recipient_id, kind, subject, body, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		notification.InstanceID,
		notification.AssignmentID,
		notification.RecipientID,
		notification.Kind,
		notification.Subject,
		notification.Body,
		notification.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	notification.ID = id
	return nil
}

// GetPending retrieves the oldest pending notifications.
func (r *NotificationRepository) GetPending(ctx context.Context, limit int) ([]*entity.Notification, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, `
		SELECT id, instance_id, assignment_id, recipient_id, kind, subject, body,
			status, attempts, last_error, sent_at, created_at, updated_at
		FROM notifications
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`, entity.NotificationPending, limit)
	if err != nil {
		r.logger.Error("Failed to load pending notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to load pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*entity.Notification
	for rows.Next() {
		var (
			n      entity.Notification
			sentAt sql.NullTime
		)
		err := rows.Scan(
			&n.ID,
			&n.InstanceID,
			&n.AssignmentID,
			&n.RecipientID,
			&n.Kind,
			&n.Subject,
			&n.Body,
			&n.Status,
			&n.Attempts,
			&n.LastError,
			&sentAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE notifications SET
			status = ?, attempts = attempts + 1, last_error = '',
			sent_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, entity.NotificationSent, id)
	if err != nil {
		r.logger.Error("Failed to mark notification sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure with its error.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE notifications SET
			status = ?, attempts = attempts + 1, last_error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, entity.NotificationFailed, errMsg, id)
	if err != nil {
		r.logger.Error("Failed to mark notification failed", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
