// Package override implements the pluggable read-side field overriders.
// Two registries exist: one user-aware, consulted inside the bound stack,
// and one modulestore-level, applied to authored reads.
package override

import (
	"context"
	"fmt"
	"sync"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

// Provider is a stateless overrider. Get reports found=false to pass the
// question to the next provider; ordering is significant and the first
// found answer wins.
type Provider interface {
	Name() string
	EnabledFor(course keys.CourseKey) bool
	Get(ctx context.Context, viewer requestdata.Viewer, b *block.Authored, name string) (any, bool)
}

// Factory builds a provider from its registered name. Provider classes are
// compiled in and selected by name through configuration, replacing the
// source system's fully-qualified import paths.
type Factory func() Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

func RegisterFactory(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

func factoryFor(name string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Registry holds the process-wide ordered provider list.
type Registry struct {
	providers []Provider
}

// NewRegistry instantiates the named providers in order. Unknown names are
// an error: a typo in configuration must not silently drop an overrider.
func NewRegistry(names []string) (*Registry, error) {
	r := &Registry{}
	for _, name := range names {
		f, ok := factoryFor(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown override provider %q", pkgerrors.ErrInvalidArgument, name)
		}
		r.providers = append(r.providers, f())
	}
	return r, nil
}

func NewRegistryFromProviders(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

func (r *Registry) Empty() bool { return r == nil || len(r.providers) == 0 }

// RequestOverrides memoizes the enabled-provider subset per course for one
// request.
type RequestOverrides struct {
	registry *Registry
	enabled  map[string][]Provider
}

func (r *Registry) ForRequest() *RequestOverrides {
	return &RequestOverrides{registry: r, enabled: map[string][]Provider{}}
}

func (ro *RequestOverrides) EnabledFor(course keys.CourseKey) []Provider {
	key := course.ForBranch().String()
	if ps, ok := ro.enabled[key]; ok {
		return ps
	}
	var ps []Provider
	for _, p := range ro.registry.providers {
		if p.EnabledFor(course) {
			ps = append(ps, p)
		}
	}
	ro.enabled[key] = ps
	return ps
}

// Layer adapts the enabled providers for one (course, viewer) into a stack
// override layer.
func (ro *RequestOverrides) Layer(course keys.CourseKey, viewer requestdata.Viewer) *Layer {
	return &Layer{providers: ro.EnabledFor(course), viewer: viewer}
}

type Layer struct {
	providers []Provider
	viewer    requestdata.Viewer
}

func (l *Layer) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	for _, p := range l.providers {
		if v, ok := p.Get(ctx, l.viewer, b, name); ok {
			return v, nil
		}
	}
	return nil, pkgerrors.ErrFieldNotFound
}

// OverriddenFieldData wraps a field-data so modulestore-level providers
// answer before it. Wrapping is idempotent per registry: wrapping an
// already-wrapped field-data returns the original.
type OverriddenFieldData struct {
	inner     block.FieldData
	registry  *Registry
	course    keys.CourseKey
	providers []Provider
}

func Wrap(fd block.FieldData, registry *Registry, course keys.CourseKey) block.FieldData {
	if registry.Empty() {
		return fd
	}
	if wrapped, ok := fd.(*OverriddenFieldData); ok && wrapped.registry == registry {
		return fd
	}
	var enabled []Provider
	for _, p := range registry.providers {
		if p.EnabledFor(course) {
			enabled = append(enabled, p)
		}
	}
	return &OverriddenFieldData{inner: fd, registry: registry, course: course, providers: enabled}
}

func (o *OverriddenFieldData) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	for _, p := range o.providers {
		if v, ok := p.Get(ctx, requestdata.Anonymous(), b, name); ok {
			return v, nil
		}
	}
	return o.inner.Get(ctx, b, name)
}

func (o *OverriddenFieldData) Set(ctx context.Context, b *block.Authored, name string, value any) error {
	return o.inner.Set(ctx, b, name, value)
}

func (o *OverriddenFieldData) Delete(ctx context.Context, b *block.Authored, name string) error {
	return o.inner.Delete(ctx, b, name)
}

func (o *OverriddenFieldData) Has(ctx context.Context, b *block.Authored, name string) (bool, error) {
	for _, p := range o.providers {
		if _, ok := p.Get(ctx, requestdata.Anonymous(), b, name); ok {
			return true, nil
		}
	}
	return o.inner.Has(ctx, b, name)
}

func (o *OverriddenFieldData) Default(b *block.Authored, name string) (any, error) {
	return o.inner.Default(b, name)
}
