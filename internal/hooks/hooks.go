// Package hooks is the trigger registry components attach their callbacks
// to. A host (the daemon loop, a CLI command) fires a named hook and every
// callback registered under that name runs in registration order.
//
// Callbacks are identified by a name so that re-registering the same
// callback is a no-op and so that its presence can be queried, which the
// schedule guardian relies on.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Well-known hook names fired by the host.
const (
	// Init fires once when the host process starts.
	Init = "init"
	// AdminInit fires on every administrative invocation (CLI command,
	// daemon maintenance tick).
	AdminInit = "admin_init"
	// Loaded fires on every daemon loop iteration.
	Loaded = "loaded"
)

// Action is a callback attached to a hook.
type Action func(ctx context.Context) error

type entry struct {
	name string
	fn   Action
}

// Registry maps hook names to their callbacks. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string][]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string][]entry),
	}
}

// AddAction attaches fn to hook under the given callback name. Returns false
// if a callback with that name is already attached to the hook.
func (r *Registry) AddAction(hook, name string, fn Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.actions[hook] {
		if e.name == name {
			return false
		}
	}

	r.actions[hook] = append(r.actions[hook], entry{name: name, fn: fn})
	return true
}

// HasAction reports whether a callback with the given name is attached to hook.
func (r *Registry) HasAction(hook, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.actions[hook] {
		if e.name == name {
			return true
		}
	}
	return false
}

// RemoveAction detaches the named callback from hook. Returns false if it
// was not attached.
func (r *Registry) RemoveAction(hook, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.actions[hook]
	for i, e := range entries {
		if e.name != name {
			continue
		}
		r.actions[hook] = append(entries[:i:i], entries[i+1:]...)
		if len(r.actions[hook]) == 0 {
			delete(r.actions, hook)
		}
		return true
	}
	return false
}

// HasHook reports whether any callback is attached to hook.
func (r *Registry) HasHook(hook string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions[hook]) > 0
}

// Do runs every callback attached to hook. A failing callback does not
// stop the others; all errors are joined and returned.
func (r *Registry) Do(ctx context.Context, hook string) error {
	r.mu.RLock()
	entries := make([]entry, len(r.actions[hook]))
	copy(entries, r.actions[hook])
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", hook, e.name, err))
		}
	}

	return errors.Join(errs...)
}
