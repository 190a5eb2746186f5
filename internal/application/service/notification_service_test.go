package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
	"github.com/stagecraft/approvalflow/internal/infrastructure/persistence/memory"
)

// rejectingNotifier fails delivery to one recipient and accepts the rest.
type rejectingNotifier struct {
	fakeNotifier
	reject string
}

func (f *rejectingNotifier) Notify(ctx context.Context, n *entity.Notification) error {
	if n.RecipientID == f.reject {
		return errors.New("recipient unreachable")
	}
	return f.fakeNotifier.Notify(ctx, n)
}

// recordingOutbox captures MarkFailed calls so delivery failures can be
// asserted without a read path on the outbox.
type recordingOutbox struct {
	port.NotificationRepository
	failedID  int64
	failedMsg string
}

func (r *recordingOutbox) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	r.failedID = id
	r.failedMsg = errMsg
	return r.NotificationRepository.MarkFailed(ctx, id, errMsg)
}

func queueNotification(t *testing.T, store *memory.Store, recipient string) *entity.Notification {
	t.Helper()
	n := &entity.Notification{
		RecipientID: recipient,
		Kind:        entity.NotificationTaskAssigned,
		Subject:     "Approval task assigned",
	}
	require.NoError(t, store.Notifications().Create(context.Background(), n))
	return n
}

func TestProcessPending(t *testing.T) {
	t.Run("delivers and marks a batch sent", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &fakeNotifier{}
		notifications := NewNotificationService(store.Notifications(), notifier, &mockLogger{}, 50)

		queueNotification(t, store, "sup-1")
		queueNotification(t, store, "sup-2")
		queueNotification(t, store, "mgr-1")

		sent, err := notifications.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, sent)
		assert.Len(t, notifier.sent, 3)

		pending, err := store.Notifications().GetPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("a delivery failure marks the row and never stops the batch", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &rejectingNotifier{reject: "ghost"}
		outbox := &recordingOutbox{NotificationRepository: store.Notifications()}
		notifications := NewNotificationService(outbox, notifier, &mockLogger{}, 50)

		bad := queueNotification(t, store, "ghost")
		good := queueNotification(t, store, "sup-1")

		sent, err := notifications.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, good.ID, notifier.sent[0].ID)
		assert.Equal(t, bad.ID, outbox.failedID)
		assert.Contains(t, outbox.failedMsg, "unreachable")

		// failed rows are not retried by the next sweep
		sent, err = notifications.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, sent)
	})

	t.Run("honors the batch size", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &fakeNotifier{}
		notifications := NewNotificationService(store.Notifications(), notifier, &mockLogger{}, 2)

		queueNotification(t, store, "sup-1")
		queueNotification(t, store, "sup-2")
		queueNotification(t, store, "sup-3")

		sent, err := notifications.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, sent)

		sent, err = notifications.ProcessPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sent)
	})
}
