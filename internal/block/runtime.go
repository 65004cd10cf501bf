package block

import (
	"context"
)

// URLBuilder generates block-addressed URLs. Learner and authoring surfaces
// inject different implementations instead of swapping a global function.
type URLBuilder interface {
	HandlerURL(a *Authored, handler, suffix string) string
	ViewURL(a *Authored, view string) string
}

// FragmentWrapper transforms a rendered fragment. Wrappers run in the fixed
// order the binding engine attached them.
type FragmentWrapper func(ctx context.Context, b *Bound, view string, frag *Fragment, viewCtx map[string]any) (*Fragment, error)

// Runtime carries the per-binding machinery a bound block renders through:
// the service registry, the wrapper pipeline, URL generation, and the
// request token that namespaces generated DOM ids.
type Runtime struct {
	Services     ServiceLocator
	URLs         URLBuilder
	RequestToken string

	// Position is the 1-based position within the parent, when the caller
	// supplied a valid one.
	Position int

	WrapDisplay bool

	wrappers []FragmentWrapper
}

// AttachWrappers sets the pipeline; order is significant and fixed by the
// binding engine.
func (r *Runtime) AttachWrappers(ws []FragmentWrapper) {
	r.wrappers = ws
}

func (r *Runtime) WrapFragment(ctx context.Context, b *Bound, view string, frag *Fragment, viewCtx map[string]any) (*Fragment, error) {
	out := frag
	for _, w := range r.wrappers {
		next, err := w(ctx, b, view, out, viewCtx)
		if err != nil {
			return nil, err
		}
		if next != nil {
			out = next
		}
	}
	return out, nil
}

// Service is a convenience passthrough to the registry.
func (r *Runtime) Service(name string) (any, error) {
	return r.Services.Service(name)
}
