// Package eventbus implements the handler registry events are dispatched
// through: a map from event type name to a single registered callback,
// synchronous or suspending.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pygase/internal/protocol"
)

// Handler is the callback invoked for a dispatched event. It receives the
// event's positional args followed by its keyword args merged with
// whatever the invoker injects (ctx, game state snapshot, address, dt,
// ...); invoker-supplied keys always win over the event's own keyword
// args, matching the spec's "explicit kwargs from the invoker take
// precedence" rule. It returns a patch (nil for none) and an error.
//
// A Handler may block: suspending handlers and plain synchronous ones are
// both just Go functions here, called synchronously on the goroutine of
// whichever dispatcher calls Handle, so a blocking handler delays that
// dispatcher - the tagged Sync/Async union the spec's design
// notes describe is unnecessary once the host language has goroutines.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (map[string]any, error)

// Registry holds one Handler per event type; re-registering a type
// replaces its handler. It is safe for concurrent registration and
// dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

// Register installs fn as the handler for eventType, replacing any
// previously registered handler for that type.
func (r *Registry) Register(eventType string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = fn
}

// Unregister removes any handler installed for eventType.
func (r *Registry) Unregister(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// Handle looks up the handler for e.Type and invokes it with e's
// positional args and e's keyword args merged under injected (injected
// keys win). An unregistered type is not an error: it is logged as a
// warning and produces no patch, matching the NoHandler error taxonomy
// entry ("Logged; no effect").
func (r *Registry) Handle(ctx context.Context, e protocol.Event, injected map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[e.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no handler registered for event type", zap.String("type", e.Type))
		return nil, nil
	}

	kwargs := make(map[string]any, len(e.KeywordArgs)+len(injected))
	for k, v := range e.KeywordArgs {
		kwargs[k] = v
	}
	for k, v := range injected {
		kwargs[k] = v
	}

	patch, err := fn(ctx, e.PositionalArgs, kwargs)
	if err != nil {
		return nil, fmt.Errorf("eventbus: handler for %q failed: %w", e.Type, err)
	}
	return patch, nil
}

// Has reports whether a handler is registered for eventType.
func (r *Registry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[eventType]
	return ok
}
