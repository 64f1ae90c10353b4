package dispatcher

import (
	"context"

	"github.com/garyjia/invoice-workflow/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// TransitionHook is notified after a transition has been committed
type TransitionHook func(ctx context.Context, invoiceID int64, from, to string) error

// OnTransition registers hook for every committed status change.
// Errors returned by the hook are logged by the dispatcher and never reach the engine.
func OnTransition(d Dispatcher, name string, hook TransitionHook) {
	d.SubscribeNamed(event.TypeStatusChanged, name, func(ctx context.Context, evt *event.Event) error {
		return hook(ctx,
			evt.InvoiceID,
			evt.GetPayloadString(event.PayloadFromStatus),
			evt.GetPayloadString(event.PayloadToStatus),
		)
	})
}
