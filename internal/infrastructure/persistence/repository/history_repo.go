package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository. The table is
// append-only; the unique (instance_id, seq) index rejects concurrent
// appends to the same chain position. Timestamps are stored as nanoseconds
// since epoch because the chain hash covers them exactly.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

const historyColumns = `id, instance_id, seq, timestamp_ns, actor_id, event_type,
	stage_number, before_state, after_state, detail, prev_hash, hash`

// Append persists one sealed history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO history_entries (
			instance_id, seq, timestamp_ns, actor_id, event_type,
			stage_number, before_state, after_state, detail, prev_hash, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.InstanceID,
		entry.Seq,
		entry.Timestamp.UTC().UnixNano(),
		entry.ActorID,
		entry.EventType,
		entry.StageNumber,
		entry.Before,
		entry.After,
		entry.Detail,
		entry.PrevHash,
		entry.Hash,
	)
	if err != nil {
		r.logger.Error("Failed to append history entry",
			zap.Int64("instance_id", entry.InstanceID), zap.Int64("seq", entry.Seq), zap.Error(err))
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetByInstance retrieves the full trail of an instance in sequence order.
func (r *HistoryRepository) GetByInstance(ctx context.Context, instanceID int64) ([]*entity.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM history_entries
		WHERE instance_id = ?
		ORDER BY seq ASC
	`, historyColumns)

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to load history", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetLast retrieves the chain tail of an instance, or nil for an empty chain.
func (r *HistoryRepository) GetLast(ctx context.Context, instanceID int64) (*entity.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM history_entries
		WHERE instance_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, historyColumns)

	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, instanceID)
	entry, err := scanHistoryEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load chain tail", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to load chain tail: %w", err)
	}
	return entry, nil
}

func scanHistoryEntry(scan func(dest ...any) error) (*entity.HistoryEntry, error) {
	var (
		entry       entity.HistoryEntry
		timestampNS int64
	)
	err := scan(
		&entry.ID,
		&entry.InstanceID,
		&entry.Seq,
		&timestampNS,
		&entry.ActorID,
		&entry.EventType,
		&entry.StageNumber,
		&entry.Before,
		&entry.After,
		&entry.Detail,
		&entry.PrevHash,
		&entry.Hash,
	)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = time.Unix(0, timestampNS).UTC()
	return &entry, nil
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
