// Package reporter defines the reporter plugin interface and its registry.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/festats/internal/core"
)

// Reporter sends feature vectors to external systems.
//
// Report is called concurrently by every engine worker and must not retain
// vec or mutate vec.Labels, which are shared between vectors.
type Reporter interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Report(ctx context.Context, vec *core.FeatureVector) error
	Flush(ctx context.Context) error
}

// Factory creates an uninitialised reporter.
type Factory func() Reporter

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var reporters = &registry{factories: make(map[string]Factory)}

// Register makes a reporter type available by name. A later registration
// of the same name replaces the earlier one.
func Register(name string, f Factory) {
	reporters.mu.Lock()
	defer reporters.mu.Unlock()
	reporters.factories[name] = f
}

// GetFactory returns the factory registered under name.
func GetFactory(name string) (Factory, error) {
	reporters.mu.RLock()
	defer reporters.mu.RUnlock()
	f, ok := reporters.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrReporterNotFound, name)
	}
	return f, nil
}

// Names lists the registered reporter types.
func Names() []string {
	reporters.mu.RLock()
	defer reporters.mu.RUnlock()
	names := make([]string, 0, len(reporters.factories))
	for n := range reporters.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New creates and initialises a reporter of type name.
func New(name string, cfg map[string]any) (Reporter, error) {
	f, err := GetFactory(name)
	if err != nil {
		return nil, err
	}
	r := f()
	if err := r.Init(cfg); err != nil {
		return nil, fmt.Errorf("reporter %q: %w", name, err)
	}
	return r, nil
}
