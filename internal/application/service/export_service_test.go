package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/domain/workflow"
)

func TestExportHistory(t *testing.T) {
	t.Run("writes the verified trail to storage", func(t *testing.T) {
		h := newEngineHarness()
		storage := newFakeStorage()
		exports := NewExportService(h.history, storage, h.logger)

		defID := h.seedDefinition(t, twoStageDefinition())
		h.entities.setPool(1, users("sup-1")...)
		h.entities.setPool(2, users("mgr-1")...)
		instance := h.start(t, defID, "WO-X001")
		h.act(t, instance.ID, "sup-1", entity.ActionApproved)
		h.act(t, instance.ID, "mgr-1", entity.ActionApproved)

		path, err := exports.ExportHistory(context.Background(), instance.ID)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, "exports/instance_"))
		assert.True(t, strings.HasSuffix(path, ".xlsx"))

		content, err := storage.Read(context.Background(), path)
		require.NoError(t, err)
		assert.NotEmpty(t, content)
		// xlsx files are zip archives
		assert.Equal(t, []byte{'P', 'K'}, content[:2])
	})

	t.Run("an instance without history is not found", func(t *testing.T) {
		h := newEngineHarness()
		storage := newFakeStorage()
		exports := NewExportService(h.history, storage, h.logger)

		_, err := exports.ExportHistory(context.Background(), 999)
		assert.ErrorIs(t, err, workflow.ErrInstanceNotFound)
		assert.Empty(t, storage.files)
	})

	t.Run("refuses to export a corrupted trail", func(t *testing.T) {
		h := newEngineHarness()
		storage := newFakeStorage()
		exports := NewExportService(h.history, storage, h.logger)

		defID := h.seedDefinition(t, twoStageDefinition())
		h.entities.setPool(1, users("sup-1")...)
		instance := h.start(t, defID, "WO-X002")

		require.NoError(t, h.store.History().Append(context.Background(), &entity.HistoryEntry{
			InstanceID: instance.ID, Seq: 3, Timestamp: time.Now().UTC(),
			ActorID: "intruder", EventType: "action.recorded",
			Hash: "not-a-real-hash",
		}))

		_, err := exports.ExportHistory(context.Background(), instance.ID)
		assert.ErrorIs(t, err, workflow.ErrHistoryCorrupted)
		assert.Empty(t, storage.files)
	})
}
