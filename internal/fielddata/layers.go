package fielddata

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

// OverrideLayer is the read-side hook the override registry plugs into the
// stack. Implementations answer ErrFieldNotFound to pass.
type OverrideLayer interface {
	Get(ctx context.Context, b *block.Authored, name string) (any, error)
}

// AuthoredLayer serves the shared authored field values. It is the bottom
// of every stack and rejects writes.
type AuthoredLayer struct{}

func (AuthoredLayer) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	if v, ok := b.Fields[name]; ok {
		return v, nil
	}
	return nil, pkgerrors.ErrFieldNotFound
}

func (AuthoredLayer) Set(b *block.Authored, name string) error {
	return fmt.Errorf("%w: %s.%s", pkgerrors.ErrReadOnlyAuthored, b.UsageKey, name)
}

// StudentStateLayer serves user_state fields from the per-request cache and
// the remaining per-user scopes from course-scoped tags.
type StudentStateLayer struct {
	cache *Cache
	tags  repos.UserCourseTagRepo

	// session receives writes while masquerading as a specific learner so
	// previews never touch the real learner's rows.
	session SessionStore
}

func NewStudentStateLayer(cache *Cache, tags repos.UserCourseTagRepo) *StudentStateLayer {
	return &StudentStateLayer{cache: cache, tags: tags}
}

// WithMasquerade returns a copy whose writes divert to session storage.
func (l *StudentStateLayer) WithMasquerade(session SessionStore) *StudentStateLayer {
	cp := *l
	cp.session = session
	return &cp
}

func (l *StudentStateLayer) Masquerading() bool { return l.session != nil }

func (l *StudentStateLayer) tagKey(scope block.Scope, b *block.Authored, name string) (uuid.UUID, string) {
	switch scope {
	case block.ScopeUserStateSummary:
		// Summary state is shared across users of the block; keyed by the
		// zero user.
		return uuid.Nil, fmt.Sprintf("summary.%s.%s", b.UsageKey, name)
	case block.ScopePreferences:
		return l.cache.UserID(), fmt.Sprintf("pref.%s.%s", b.Type.Name, name)
	default: // user_info
		return l.cache.UserID(), fmt.Sprintf("info.%s", name)
	}
}

func (l *StudentStateLayer) Get(ctx context.Context, b *block.Authored, def block.FieldDef) (any, error) {
	if l.session != nil {
		if v, ok := l.session.Get(sessionKey(b, def.Name)); ok {
			return v, nil
		}
	}
	if def.Scope == block.ScopeUserState {
		return l.cache.GetField(ctx, b.UsageKey, def.Name)
	}
	userID, key := l.tagKey(def.Scope, b, def.Name)
	tag, err := l.tags.Get(ctx, nil, userID, l.cache.CourseKey().String(), key)
	if err == pkgerrors.ErrNotFound {
		return nil, pkgerrors.ErrFieldNotFound
	}
	if err != nil {
		return nil, err
	}
	return tag.Value, nil
}

func (l *StudentStateLayer) Set(ctx context.Context, b *block.Authored, def block.FieldDef, value any) error {
	if l.session != nil {
		l.session.Set(sessionKey(b, def.Name), value)
		return nil
	}
	if def.Scope == block.ScopeUserState {
		l.cache.SetField(b.UsageKey, def.Name, value)
		return nil
	}
	userID, key := l.tagKey(def.Scope, b, def.Name)
	return l.tags.Set(ctx, nil, userID, l.cache.CourseKey().String(), key, fmt.Sprintf("%v", value))
}

func (l *StudentStateLayer) Delete(ctx context.Context, b *block.Authored, def block.FieldDef) error {
	if l.session != nil {
		l.session.Delete(sessionKey(b, def.Name))
		return nil
	}
	if def.Scope == block.ScopeUserState {
		l.cache.DeleteField(b.UsageKey, def.Name)
		return nil
	}
	userID, key := l.tagKey(def.Scope, b, def.Name)
	return l.tags.Set(ctx, nil, userID, l.cache.CourseKey().String(), key, "")
}

// Flush persists buffered user_state for the block. A masquerading layer
// never persists.
func (l *StudentStateLayer) Flush(ctx context.Context, b *block.Authored) error {
	if l.session != nil {
		return nil
	}
	return l.cache.Flush(ctx, b.UsageKey, b.Type.Name)
}

func sessionKey(b *block.Authored, name string) string {
	return b.UsageKey.String() + "." + name
}

// SessionStore is the masquerade write target; the HTTP layer backs it with
// the staff user's session.
type SessionStore interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// MapSessionStore is the in-memory SessionStore used for previews and tests.
type MapSessionStore struct {
	m map[string]any
}

func NewMapSessionStore() *MapSessionStore {
	return &MapSessionStore{m: map[string]any{}}
}

func (s *MapSessionStore) Get(key string) (any, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *MapSessionStore) Set(key string, value any) { s.m[key] = value }

func (s *MapSessionStore) Delete(key string) { delete(s.m, key) }
