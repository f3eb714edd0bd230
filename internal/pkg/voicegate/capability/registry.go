package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrNotEnabled = errors.New("capability not enabled")
	ErrFrozen     = errors.New("capability registry is frozen")
	ErrDuplicate  = errors.New("capability already registered")
)

// Handle is what the registry stores for each capability.
type Handle interface {
	Capability() Name
	Close(ctx context.Context) error
}

// Registry maps capability names to handles. It is filled during startup and
// frozen before the server starts accepting requests; after Freeze the table
// never changes and lookups take no lock.
type Registry[H Handle] struct {
	mu      sync.Mutex
	frozen  atomic.Bool
	entries map[Name]H
}

func NewRegistry[H Handle]() *Registry[H] {
	return &Registry[H]{entries: make(map[Name]H)}
}

func (r *Registry[H]) Register(name Name, h H) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	if got := h.Capability(); got != name {
		return fmt.Errorf("capability: handle serves %q, cannot register as %q", got, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return fmt.Errorf("%w: register %q", ErrFrozen, name)
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.entries[name] = h
	return nil
}

func (r *Registry[H]) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry[H]) Frozen() bool {
	return r.frozen.Load()
}

// Lookup never loads anything: a capability that was not registered before
// Freeze stays disabled for the life of the process.
func (r *Registry[H]) Lookup(name Name) (H, error) {
	var (
		h  H
		ok bool
	)
	if r.frozen.Load() {
		h, ok = r.entries[name]
	} else {
		r.mu.Lock()
		h, ok = r.entries[name]
		r.mu.Unlock()
	}
	if !ok {
		var zero H
		return zero, fmt.Errorf("%w: %s", ErrNotEnabled, name)
	}
	return h, nil
}

func (r *Registry[H]) Enabled(name Name) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names returns the registered capabilities in declaration order.
func (r *Registry[H]) Names() []Name {
	names := make([]Name, 0, len(All))
	for _, n := range All {
		if r.Enabled(n) {
			names = append(names, n)
		}
	}
	return names
}

// Close releases every registered handle. It is called once, after the
// server has stopped serving.
func (r *Registry[H]) Close(ctx context.Context) error {
	r.Freeze()

	var errs []error
	for _, n := range r.Names() {
		if err := r.entries[n].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}
