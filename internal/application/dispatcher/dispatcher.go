package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/invoice-workflow/internal/domain/event"
)

// Dispatcher fans committed workflow events out to registered handlers
type Dispatcher interface {
	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// DispatchAsync sends event to handlers asynchronously.
	// Handlers run detached from ctx cancellation and their failures are only logged.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	// closed is guarded by mu so that wg.Add never races Close's wg.Wait
	wg     sync.WaitGroup
	closed bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	d.logInfo("Handler registered",
		"event_type", eventType,
		"handler_name", name,
	)
}

// DispatchAsync sends event to handlers asynchronously
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if !evt.Type.IsValid() {
		d.logError("Dropping event of unknown type",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logError("Cannot dispatch async event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}

	handlers := d.handlers[evt.Type]
	if len(handlers) == 0 {
		return
	}

	d.logInfo("Dispatching event",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"invoice_id", evt.InvoiceID,
		"handler_count", len(handlers),
	)

	// the originating call has already returned by the time handlers run
	detached := context.WithoutCancel(ctx)

	for _, info := range handlers {
		d.wg.Add(1)
		go func(h HandlerInfo) {
			defer d.wg.Done()

			if err := d.safeExecute(detached, evt, h); err != nil {
				d.logError("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"invoice_id", evt.InvoiceID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
}

// ListHandlers returns registered handlers for an event type
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *eventDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.mu.Unlock()

	d.logInfo("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	d.logInfo("Dispatcher closed")

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logError("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()

	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *eventDispatcher) logError(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
