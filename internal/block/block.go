// Package block holds the content-block model: the shared authored block,
// the per-viewer bound block, the block-type registry, and the runtime a
// bound block renders and dispatches through.
package block

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

// ScopeIDs names the identity axes a field lookup can vary over.
type ScopeIDs struct {
	UserID    *uuid.UUID
	BlockType string
	DefKey    string
	UsageKey  keys.UsageKey
}

// Authored is the shared, user-independent content node. It is owned by the
// content store and must never be mutated through a field-data stack.
type Authored struct {
	UsageKey keys.UsageKey
	Type     *Type
	DefKey   string
	Parent   *keys.UsageKey
	Children []keys.UsageKey

	// Fields holds the authored field values keyed by field name.
	Fields map[string]any
}

func (a *Authored) ScopeIDs() ScopeIDs {
	return ScopeIDs{
		BlockType: a.Type.Name,
		DefKey:    a.DefKey,
		UsageKey:  a.UsageKey,
	}
}

// FieldDef resolves a field declaration, checking type fields first and
// falling back to the shared inheritable set.
func (a *Authored) FieldDef(name string) (FieldDef, bool) {
	if a.Type != nil {
		if def, ok := a.Type.Fields[name]; ok {
			return def, true
		}
	}
	def, ok := InheritedFieldDefs[name]
	return def, ok
}

// FieldData routes a bound block's field reads and writes. Layers answer
// Get with ErrFieldNotFound to fall through; Set against an authored scope
// fails with ErrReadOnlyAuthored.
type FieldData interface {
	Get(ctx context.Context, b *Authored, name string) (any, error)
	Set(ctx context.Context, b *Authored, name string, value any) error
	Delete(ctx context.Context, b *Authored, name string) error
	Has(ctx context.Context, b *Authored, name string) (bool, error)
	Default(b *Authored, name string) (any, error)
}

// ServiceLocator exposes runtime capabilities by name. A missing service is
// an error, never a nil.
type ServiceLocator interface {
	Service(name string) (any, error)
}

// Bound associates one authored block with one viewer for one request.
type Bound struct {
	Authored  *Authored
	FieldData FieldData
	Runtime   *Runtime

	// UserID is nil while bound to the anonymous identity.
	UserID      *uuid.UUID
	AnonymousID string

	// AccessDenied is set when binding saw a recoverable denial and the
	// caller promised to recheck; the wrapper pipeline renders the message.
	AccessDenied *pkgerrors.AccessDeniedError

	// dirty tracks user-scoped writes not yet flushed by Save.
	dirty map[string]any
	// promoted records that the anonymous-to-real upgrade already happened.
	promoted bool
}

func (b *Bound) Type() *Type { return b.Authored.Type }

func (b *Bound) UsageKey() keys.UsageKey { return b.Authored.UsageKey }

func (b *Bound) CourseKey() keys.CourseKey { return b.Authored.UsageKey.CourseKey }

func (b *Bound) ScopeIDs() ScopeIDs {
	ids := b.Authored.ScopeIDs()
	ids.UserID = b.UserID
	return ids
}

// GetField resolves name through the field-data stack, falling back to the
// declared default when no layer answers.
func (b *Bound) GetField(ctx context.Context, name string) (any, error) {
	v, err := b.FieldData.Get(ctx, b.Authored, name)
	if errors.Is(err, pkgerrors.ErrFieldNotFound) {
		return b.FieldData.Default(b.Authored, name)
	}
	return v, err
}

// GetString is GetField for string-typed fields; non-strings and errors
// collapse to "".
func (b *Bound) GetString(ctx context.Context, name string) string {
	v, err := b.GetField(ctx, name)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool is GetField for bool-typed fields.
func (b *Bound) GetBool(ctx context.Context, name string) bool {
	v, err := b.GetField(ctx, name)
	if err != nil {
		return false
	}
	t, _ := v.(bool)
	return t
}

func (b *Bound) SetField(ctx context.Context, name string, value any) error {
	if err := b.FieldData.Set(ctx, b.Authored, name, value); err != nil {
		return err
	}
	if b.dirty == nil {
		b.dirty = map[string]any{}
	}
	b.dirty[name] = value
	return nil
}

// Save flushes pending user-scoped writes through the field-data stack.
func (b *Bound) Save(ctx context.Context) error {
	if len(b.dirty) == 0 {
		return nil
	}
	if flusher, ok := b.FieldData.(interface {
		Flush(ctx context.Context, b *Authored) error
	}); ok {
		if err := flusher.Flush(ctx, b.Authored); err != nil {
			return err
		}
	}
	b.dirty = nil
	return nil
}

// MarkPromoted records the one-time anonymous-to-real upgrade; the second
// attempt must fail.
func (b *Bound) MarkPromoted() error {
	if b.promoted {
		return pkgerrors.ErrRebindNotAllowed
	}
	b.promoted = true
	return nil
}

func (b *Bound) Promoted() bool { return b.promoted }

// BoundToReal reports whether the block is bound to a real learner.
func (b *Bound) BoundToReal() bool { return b.UserID != nil }

// Render runs the named view and pushes the fragment through the runtime's
// wrapper pipeline.
func (b *Bound) Render(ctx context.Context, view string, viewCtx map[string]any) (*Fragment, error) {
	fn, ok := b.Type().Views[view]
	if !ok {
		return nil, pkgerrors.ErrHandlerMissing
	}
	frag, err := fn(ctx, b, viewCtx)
	if err != nil {
		return nil, err
	}
	return b.Runtime.WrapFragment(ctx, b, view, frag, viewCtx)
}

// Handle dispatches a client callback to the named handler.
func (b *Bound) Handle(ctx context.Context, handler string, r *http.Request, suffix string) (*HandlerResponse, error) {
	h, ok := b.Type().Handlers[handler]
	if !ok {
		return nil, pkgerrors.ErrHandlerMissing
	}
	return h.Fn(ctx, b, r, suffix)
}

// HandleAjax dispatches the legacy ajax surface used by the external-grader
// return path.
func (b *Bound) HandleAjax(ctx context.Context, dispatch string, data url.Values) (string, error) {
	fn := b.Type().Ajax
	if fn == nil {
		return "", pkgerrors.ErrHandlerMissing
	}
	return fn(ctx, b, dispatch, data)
}

// HandlerInfo looks up handler metadata without invoking it; the dispatcher
// peeks at WillRecheckAccess before binding.
func (b *Bound) HandlerInfo(handler string) (Handler, bool) {
	h, ok := b.Type().Handlers[handler]
	return h, ok
}
