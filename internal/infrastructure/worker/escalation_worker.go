package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/service"
)

// EscalationWorker periodically sweeps overdue assignments through the
// escalation service. The sweep itself is idempotent, so overlapping runs or
// a second process doing the same work are harmless.
type EscalationWorker struct {
	escalations service.EscalationService
	logger      *zap.Logger

	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEscalationWorker creates a new escalation worker.
func NewEscalationWorker(escalations service.EscalationService, interval time.Duration, logger *zap.Logger) *EscalationWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationWorker{
		escalations: escalations,
		logger:      logger,
		interval:    interval,
	}
}

// Name returns the worker name.
func (w *EscalationWorker) Name() string {
	return "escalation-worker"
}

// Start starts the sweep loop.
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("escalation worker is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("EscalationWorker started", zap.Duration("interval", w.interval))
	go w.loop(runCtx)
	return nil
}

// Stop stops the sweep loop and waits for the current sweep to finish.
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return nil
	}
	w.cancel()
	<-w.done
	w.isRunning = false
	w.logger.Info("EscalationWorker stopped")
	return nil
}

func (w *EscalationWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *EscalationWorker) sweep(ctx context.Context) {
	report, err := w.escalations.CheckEscalations(ctx)
	if err != nil {
		w.logger.Error("Escalation sweep failed", zap.Error(err))
		return
	}
	if report.Checked > 0 {
		w.logger.Info("Escalation sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("reassigned", report.Reassigned),
			zap.Int("raised", report.Raised),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
			zap.Int("errors", report.Errors))
	}
}

// Verify interface compliance
var _ Worker = (*EscalationWorker)(nil)
