package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/service"
)

// NotificationWorker drains the notification outbox on an interval. Rows are
// queued inside engine transactions; this worker is the only component that
// actually delivers them.
type NotificationWorker struct {
	notifications service.NotificationService
	logger        *zap.Logger

	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewNotificationWorker creates a new notification worker.
func NewNotificationWorker(notifications service.NotificationService, interval time.Duration, logger *zap.Logger) *NotificationWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &NotificationWorker{
		notifications: notifications,
		logger:        logger,
		interval:      interval,
	}
}

// Name returns the worker name.
func (w *NotificationWorker) Name() string {
	return "notification-worker"
}

// Start starts the delivery loop.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("notification worker is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("NotificationWorker started", zap.Duration("interval", w.interval))
	go w.loop(runCtx)
	return nil
}

// Stop stops the delivery loop and waits for the current batch to finish.
func (w *NotificationWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}
	w.cancel()
	<-w.done
	w.isRunning = false
	w.logger.Info("NotificationWorker stopped")
	return nil
}

func (w *NotificationWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := w.notifications.ProcessPending(ctx)
			if err != nil {
				w.logger.Error("Notification batch failed", zap.Error(err))
				continue
			}
			if sent > 0 {
				w.logger.Info("Notifications delivered", zap.Int("sent", sent))
			}
		}
	}
}

// Verify interface compliance
var _ Worker = (*NotificationWorker)(nil)
