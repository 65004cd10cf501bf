// Package services implements the per-bind service registry and every
// service the runtime hands to bound blocks.
package services

import (
	"fmt"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// Registry implements block.ServiceLocator. A missing name always yields
// ErrNoSuchService; lookups never answer nil with a nil error.
type Registry struct {
	log      *logger.Logger
	services map[string]any
}

func NewRegistry(baseLog *logger.Logger) *Registry {
	return &Registry{
		log:      baseLog.With("service", "ServiceRegistry"),
		services: map[string]any{},
	}
}

// Register binds a service instance under the given name, replacing any
// previous binding.
func (r *Registry) Register(name string, svc any) {
	if svc == nil {
		return
	}
	r.services[name] = svc
}

func (r *Registry) Has(name string) bool {
	_, ok := r.services[name]
	return ok
}

func (r *Registry) Service(name string) (any, error) {
	svc, ok := r.services[name]
	if !ok || svc == nil {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrNoSuchService, name)
	}
	return svc, nil
}

// Clone copies the registry so a bind can add per-request services without
// leaking them into the shared base.
func (r *Registry) Clone() *Registry {
	out := &Registry{log: r.log, services: make(map[string]any, len(r.services))}
	for k, v := range r.services {
		out.services[k] = v
	}
	return out
}

var _ block.ServiceLocator = (*Registry)(nil)
