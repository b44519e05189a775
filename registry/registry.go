// Package registry is the insertion-ordered collection of supervisors
// keyed by model name (spec §4.5), grounded on
// original_source/discovery/finder.py's ModelRegistry. The registry
// exclusively owns every supervisor it holds: unregistering one stops
// it, and tearing down the registry stops them all.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelserve-go/modelserve/config"
	"github.com/modelserve-go/modelserve/internal/log"
	"github.com/modelserve-go/modelserve/supervisor"
)

// ModelStatus is Status()'s per-model snapshot.
type ModelStatus struct {
	Running  bool
	Version  string
	Handlers []string
}

// Registry is a name -> *supervisor.Supervisor map with ownership
// semantics. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	sups  map[string]*supervisor.Supervisor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sups: make(map[string]*supervisor.Supervisor)}
}

// Register adds d as a new supervisor, rejecting duplicate names.
func (r *Registry) Register(d *config.Descriptor) (*supervisor.Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sups[d.Name]; exists {
		return nil, fmt.Errorf("registry: model %q already registered", d.Name)
	}

	sup := supervisor.New(d)
	r.sups[d.Name] = sup
	r.order = append(r.order, d.Name)
	log.Global().Infof("registry: registered %q", d.Name)
	return sup, nil
}

// RegisterFromDescriptor loads a descriptor from a directory and
// registers it.
func (r *Registry) RegisterFromDescriptor(dir string) (*supervisor.Supervisor, error) {
	d, err := config.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return r.Register(d)
}

// RegisterFromDir discovers every model under root and registers each
// one, skipping (with a logged warning) any whose name collides with
// an already-registered model. Returns the names it registered.
func (r *Registry) RegisterFromDir(root string, recursive bool, maxDepth int) ([]string, error) {
	found, err := Discover(root, recursive, maxDepth)
	if err != nil {
		return nil, err
	}

	var registered []string
	for name, d := range found {
		if _, err := r.Register(d); err != nil {
			log.Global().Warnf("registry: skipping %q: %v", name, err)
			continue
		}
		registered = append(registered, name)
	}
	return registered, nil
}

// Unregister stops and removes the named supervisor.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	sup, exists := r.sups[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("registry: model %q not registered", name)
	}
	delete(r.sups, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return sup.Stop(ctx, 10*time.Second)
}

// Get returns the named supervisor.
func (r *Registry) Get(name string) (*supervisor.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.sups[name]
	return sup, ok
}

// Names returns every registered model name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// StartAll starts every registered supervisor, never aborting the
// batch on a single failure, and collects per-model outcomes.
func (r *Registry) StartAll(ctx context.Context, timeout time.Duration) map[string]error {
	names := r.Names()
	results := make(map[string]error, len(names))
	for _, name := range names {
		sup, ok := r.Get(name)
		if !ok {
			continue
		}
		if err := sup.Start(ctx, timeout); err != nil {
			log.Global().Errorf("registry: failed to start %q: %v", name, err)
			results[name] = err
		} else {
			results[name] = nil
		}
	}
	return results
}

// StopAll stops every registered supervisor concurrently, waiting for
// all to finish.
func (r *Registry) StopAll(ctx context.Context, timeout time.Duration) map[string]error {
	names := r.Names()
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]error, len(names))

	for _, name := range names {
		sup, ok := r.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, sup *supervisor.Supervisor) {
			defer wg.Done()
			err := sup.Stop(ctx, timeout)
			mu.Lock()
			results[name] = err
			mu.Unlock()
		}(name, sup)
	}
	wg.Wait()
	return results
}

// Status returns a snapshot of every registered model's running
// state, version, and declared handler names.
func (r *Registry) Status() map[string]ModelStatus {
	names := r.Names()
	out := make(map[string]ModelStatus, len(names))
	for _, name := range names {
		sup, ok := r.Get(name)
		if !ok {
			continue
		}
		d := sup.Descriptor()
		out[name] = ModelStatus{
			Running:  sup.State() == supervisor.Running,
			Version:  d.Version,
			Handlers: d.HandlerNames(),
		}
	}
	return out
}
