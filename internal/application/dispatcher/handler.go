package dispatcher

import (
	"context"

	"github.com/stagecraft/approvalflow/internal/domain/event"
)

// Handler processes domain events. Handlers observe committed state; they
// must not call back into the engine's write path.
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for logging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
