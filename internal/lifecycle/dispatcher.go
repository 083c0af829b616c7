// ABOUTME: Named-event dispatcher with ordered handlers and background task spawning
// ABOUTME: Lifecycle events run handlers synchronously; spawned tasks log and swallow failures

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// taskTimeout bounds every spawned background task.
const taskTimeout = 30 * time.Second

// HandlerFunc handles a named event. Returning an error fails the emit.
type HandlerFunc func(ctx context.Context, payload any) error

// Dispatcher routes named events to explicitly registered handlers, in
// registration order. It also spawns best-effort background tasks whose
// failures are logged and swallowed rather than surfaced to callers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Pass nil logger for default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]HandlerFunc),
		logger:   logger.With("component", "dispatcher"),
	}
}

// On registers a handler for the named event. Handlers run in registration
// order when the event is emitted.
func (d *Dispatcher) On(event string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], handler)
}

// Emit runs every handler registered for the event, in order. The first
// handler error (or recovered panic) aborts the emit and is returned.
// Emitting an event with no handlers is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, event string, payload any) error {
	d.mu.RLock()
	handlers := d.handlers[event]
	d.mu.RUnlock()

	for i, handler := range handlers {
		if err := d.run(ctx, handler, payload); err != nil {
			return fmt.Errorf("handler %d for %q: %w", i, event, err)
		}
	}
	return nil
}

// run invokes one handler, converting a panic into an error so a broken
// handler fails its event instead of killing the process.
func (d *Dispatcher) run(ctx context.Context, handler HandlerFunc, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// Go spawns fn as a detached background task with its own timeout. Errors
// and panics are logged under the task name and never propagate; the work
// is best-effort by contract.
func (d *Dispatcher) Go(name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			d.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}
