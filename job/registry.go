package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jobhandler "github.com/unfoldingWord/door43-job-handler"
)

// HandlerFunc is a type-erased job handler that accepts the raw JSON
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps job kinds to type-erased handler functions plus their
// per-kind options. It is safe for concurrent use.
//
// The worker seals the registry at startup; the kind → handler mapping is
// immutable from then on, so dispatch never races with registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	opts     map[string]Options
	sealed   bool
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		opts:     make(map[string]Options),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler. A payload that cannot be decoded is a
// permanent failure, not a transient one.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return jobhandler.Fatal(fmt.Errorf("unmarshal payload for job kind %q: %w", def.Kind, err))
			}
		}
		return def.Handler(ctx, t)
	}
	return r.RegisterFunc(def.Kind, handler, def.Opts)
}

// RegisterFunc registers a raw handler for the given kind. Registering a
// duplicate kind or registering after the registry is sealed is an error.
func (r *Registry) RegisterFunc(kind string, h HandlerFunc, opts Options) error {
	if kind == "" {
		return fmt.Errorf("job: register: empty kind")
	}
	if h == nil {
		return fmt.Errorf("job: register %q: nil handler", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("job: register %q: %w", kind, jobhandler.ErrRegistrySealed)
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("job: register %q: %w", kind, jobhandler.ErrDuplicateKind)
	}
	r.handlers[kind] = h
	r.opts[kind] = opts
	return nil
}

// Seal freezes the registry. Called once when the worker starts.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the handler for the given job kind.
// Returns false if no handler is registered.
func (r *Registry) Get(kind string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Opts returns the options the given kind was registered with.
func (r *Registry) Opts(kind string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.opts[kind]
	return o, ok
}

// Kinds returns all registered job kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
