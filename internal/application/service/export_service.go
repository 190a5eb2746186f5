package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

// ExportService renders an instance's audit trail to an xlsx workbook. The
// chain is verified before anything is written; a corrupted trail is never
// exported as if it were evidence.
type ExportService interface {
	ExportHistory(ctx context.Context, instanceID int64) (string, error)
}

type exportServiceImpl struct {
	history HistoryService
	storage port.FileStorage
	logger  Logger
}

// NewExportService creates a new ExportService.
func NewExportService(history HistoryService, storage port.FileStorage, logger Logger) ExportService {
	return &exportServiceImpl{
		history: history,
		storage: storage,
		logger:  logger,
	}
}

var exportColumns = []string{"Seq", "Timestamp", "Actor", "Event", "Stage", "Before", "After", "Detail", "Hash"}

// ExportHistory writes the verified trail of one instance to storage and
// returns the relative path of the workbook.
func (s *exportServiceImpl) ExportHistory(ctx context.Context, instanceID int64) (string, error) {
	if err := s.history.Verify(ctx, instanceID); err != nil {
		return "", err
	}
	entries, err := s.history.GetInstanceHistory(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("instance %d: %w", instanceID, workflow.ErrInstanceNotFound)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for col, name := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", fmt.Errorf("build header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}

	for i, e := range entries {
		row := i + 2
		values := []any{
			e.Seq,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.ActorID,
			e.EventType,
			e.StageNumber,
			e.Before,
			e.After,
			e.Detail,
			e.Hash,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return "", fmt.Errorf("build cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return "", fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("render workbook: %w", err)
	}

	path := fmt.Sprintf("exports/instance_%d_history_%s.xlsx", instanceID, time.Now().UTC().Format("20060102T150405"))
	if err := s.storage.Save(ctx, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}

	s.logger.Info("History exported", "instance_id", instanceID, "path", path, "entries", len(entries))
	return path, nil
}

var _ ExportService = (*exportServiceImpl)(nil)
