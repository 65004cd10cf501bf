package fielddata

import (
	"context"
	"errors"
	"fmt"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

// ParentLookup resolves a usage key's authored block; the content store
// supplies it for inheritance walks.
type ParentLookup func(ctx context.Context, u keys.UsageKey) *block.Authored

// Stack is the ordered field-data composition bound blocks read and write
// through. Layers top to bottom: date substitution, override providers,
// student state, authored base. The first layer to answer a read wins;
// writes always land in the student-state layer.
type Stack struct {
	env       *Env
	dates     DateLookup
	overrides []OverrideLayer
	student   *StudentStateLayer
	authored  AuthoredLayer
	parent    ParentLookup
}

type StackConfig struct {
	Env       *Env
	Dates     DateLookup
	Overrides []OverrideLayer
	Student   *StudentStateLayer
	Parent    ParentLookup
}

func NewStack(cfg StackConfig) *Stack {
	env := cfg.Env
	if env == nil {
		env = NewEnv()
	}
	return &Stack{
		env:       env,
		dates:     cfg.Dates,
		overrides: cfg.Overrides,
		student:   cfg.Student,
		parent:    cfg.Parent,
	}
}

func (s *Stack) Env() *Env { return s.env }

// Cache exposes the underlying student-state snapshot; rebinding compares
// it to assert the stack was rebuilt rather than rewrapped.
func (s *Stack) Cache() *Cache {
	if s.student == nil {
		return nil
	}
	return s.student.cache
}

func (s *Stack) StudentLayer() *StudentStateLayer { return s.student }

func (s *Stack) OverrideCount() int { return len(s.overrides) }

// WithMasquerade returns a stack whose student-state writes divert to the
// session store. All other layers are shared.
func (s *Stack) WithMasquerade(session SessionStore) *Stack {
	cp := *s
	if s.student != nil {
		cp.student = s.student.WithMasquerade(session)
	}
	return &cp
}

func (s *Stack) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	def, ok := b.FieldDef(name)
	if !ok {
		return nil, pkgerrors.ErrFieldNotFound
	}

	v, err := s.resolve(ctx, b, def)
	if err != nil {
		return nil, err
	}
	if def.IsDate && s.dates != nil {
		if authored, okDate := block.ParseDate(v); okDate {
			if effective, subst := s.dates.EffectiveDate(ctx, b, name, authored); subst {
				return effective, nil
			}
		}
	}
	return v, nil
}

func (s *Stack) resolve(ctx context.Context, b *block.Authored, def block.FieldDef) (any, error) {
	if !s.env.OverridesDisabled() {
		for _, layer := range s.overrides {
			v, err := layer.Get(ctx, b, def.Name)
			if errors.Is(err, pkgerrors.ErrFieldNotFound) {
				continue
			}
			return v, err
		}
	}
	if !def.Scope.Authored() && s.student != nil {
		v, err := s.student.Get(ctx, b, def)
		if !errors.Is(err, pkgerrors.ErrFieldNotFound) {
			return v, err
		}
		return nil, pkgerrors.ErrFieldNotFound
	}
	return s.authored.Get(ctx, b, def.Name)
}

func (s *Stack) Set(ctx context.Context, b *block.Authored, name string, value any) error {
	def, ok := b.FieldDef(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %s.%s", pkgerrors.ErrInvalidScope, b.Type.Name, name)
	}
	if def.Scope.Authored() {
		return s.authored.Set(b, name)
	}
	if s.student == nil {
		return fmt.Errorf("%w: no student-state layer for %s", pkgerrors.ErrInvalidScope, def.Scope)
	}
	return s.student.Set(ctx, b, def, value)
}

// SetScoped validates the caller's declared scope against the field's
// before writing.
func (s *Stack) SetScoped(ctx context.Context, b *block.Authored, scope block.Scope, name string, value any) error {
	def, ok := b.FieldDef(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %s.%s", pkgerrors.ErrInvalidScope, b.Type.Name, name)
	}
	if def.Scope != scope {
		return fmt.Errorf("%w: field %s is %s, write targeted %s", pkgerrors.ErrInvalidScope, name, def.Scope, scope)
	}
	return s.Set(ctx, b, name, value)
}

func (s *Stack) Delete(ctx context.Context, b *block.Authored, name string) error {
	def, ok := b.FieldDef(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %s.%s", pkgerrors.ErrInvalidScope, b.Type.Name, name)
	}
	if def.Scope.Authored() {
		return s.authored.Set(b, name)
	}
	if s.student == nil {
		return nil
	}
	return s.student.Delete(ctx, b, def)
}

// Has reports whether any layer holds a value. For an inheritable field an
// ancestor override forces false so the default lookup re-resolves through
// the ancestor chain.
func (s *Stack) Has(ctx context.Context, b *block.Authored, name string) (bool, error) {
	def, ok := b.FieldDef(name)
	if !ok {
		return false, nil
	}
	if def.Inheritable && s.ancestorHasOverride(ctx, b, name) {
		return false, nil
	}
	_, err := s.Get(ctx, b, name)
	if errors.Is(err, pkgerrors.ErrFieldNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Default resolves the value used when no layer answers: inherited fields
// re-resolve through the nearest ancestor override, then the declared
// default.
func (s *Stack) Default(b *block.Authored, name string) (any, error) {
	def, ok := b.FieldDef(name)
	if !ok {
		return nil, pkgerrors.ErrFieldNotFound
	}
	if def.Inheritable {
		for _, anc := range s.Ancestors(context.Background(), b) {
			if v, okAnc := anc.Fields[name]; okAnc {
				return v, nil
			}
		}
	}
	return def.Default, nil
}

// Flush persists buffered writes for the block.
func (s *Stack) Flush(ctx context.Context, b *block.Authored) error {
	if s.student == nil {
		return nil
	}
	return s.student.Flush(ctx, b)
}

// Ancestors returns the parent chain nearest-first. The result is a plain
// slice so consumers may walk it more than once.
func (s *Stack) Ancestors(ctx context.Context, b *block.Authored) []*block.Authored {
	var out []*block.Authored
	cur := b
	for cur != nil && cur.Parent != nil && s.parent != nil {
		next := s.parent(ctx, *cur.Parent)
		if next == nil {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func (s *Stack) ancestorHasOverride(ctx context.Context, b *block.Authored, name string) bool {
	for _, anc := range s.Ancestors(ctx, b) {
		if _, ok := anc.Fields[name]; ok {
			return true
		}
	}
	return false
}
