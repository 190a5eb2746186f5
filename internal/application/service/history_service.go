package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// HistoryRecord is one audit event before it is sealed into the chain.
// Before and After are marshalled to JSON snapshots; nil means no snapshot.
type HistoryRecord struct {
	InstanceID  int64
	ActorID     string
	EventType   string
	StageNumber int
	Before      any
	After       any
	Detail      string
}

// HistoryService is the append-only recorder of the audit trail. Every
// engine transition calls Record inside its own transaction, so the entry is
// durable before the transition is observable. Appending to a chain whose
// tail no longer verifies fails with ErrHistoryCorrupted, which freezes the
// instance for operator intervention rather than extending a broken trail.
type HistoryService interface {
	Record(ctx context.Context, rec HistoryRecord) (*entity.HistoryEntry, error)
	GetInstanceHistory(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error)
	Verify(ctx context.Context, instanceID int64) error
}

type historyServiceImpl struct {
	historyRepo port.HistoryRepository
	logger      Logger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(historyRepo port.HistoryRepository, logger Logger) HistoryService {
	return &historyServiceImpl{
		historyRepo: historyRepo,
		logger:      logger,
	}
}

// Record seals and appends one entry to the instance's chain.
func (s *historyServiceImpl) Record(ctx context.Context, rec HistoryRecord) (*entity.HistoryEntry, error) {
	last, err := s.historyRepo.GetLast(ctx, rec.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load chain tail: %w", err)
	}
	if last != nil && last.ComputeHash() != last.Hash {
		s.logger.Error("History chain tail fails verification, refusing to append",
			"instance_id", rec.InstanceID, "seq", last.Seq)
		return nil, fmt.Errorf("instance %d: %w", rec.InstanceID, workflow.ErrHistoryCorrupted)
	}

	entry := &entity.HistoryEntry{
		InstanceID:  rec.InstanceID,
		Timestamp:   time.Now().UTC(),
		ActorID:     rec.ActorID,
		EventType:   rec.EventType,
		StageNumber: rec.StageNumber,
		Before:      marshalSnapshot(rec.Before),
		After:       marshalSnapshot(rec.After),
		Detail:      rec.Detail,
	}
	entry.Seal(last)

	if err := s.historyRepo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return entry, nil
}

// GetInstanceHistory returns the full trail of an instance in sequence order.
func (s *historyServiceImpl) GetInstanceHistory(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error) {
	entries, err := s.historyRepo.GetByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

// Verify re-walks the instance's chain and returns ErrHistoryCorrupted with
// the first broken sequence number if any entry was altered or removed.
func (s *historyServiceImpl) Verify(ctx context.Context, instanceID int64) error {
	entries, err := s.historyRepo.GetByInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if broken := entity.VerifyChain(entries); broken != 0 {
		return fmt.Errorf("instance %d: entry %d: %w", instanceID, broken, workflow.ErrHistoryCorrupted)
	}
	return nil
}

func marshalSnapshot(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

var _ HistoryService = (*historyServiceImpl)(nil)
