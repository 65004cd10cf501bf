package fielddata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos/state"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos/testutil"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

var htmlType = &block.Type{
	Name: "html",
	Fields: map[string]block.FieldDef{
		"data":         {Name: "data", Scope: block.ScopeContent, Default: ""},
		"display_name": {Name: "display_name", Scope: block.ScopeSettings, Default: "Text"},
		"viewed":       {Name: "viewed", Scope: block.ScopeUserState, Default: false},
	},
}

var chapterType = &block.Type{Name: "chapter", Fields: map[string]block.FieldDef{}}

func usage(t *testing.T, s string) keys.UsageKey {
	t.Helper()
	u, err := keys.ParseUsageKey(s)
	if err != nil {
		t.Fatalf("ParseUsageKey(%q): %v", s, err)
	}
	return u
}

// tree builds chapter -> html with a parent lookup over the pair.
func tree(t *testing.T) (*block.Authored, *block.Authored, ParentLookup) {
	t.Helper()
	chapterKey := usage(t, "block-v1:edX+DemoX+2026+type@chapter+block@ch1")
	htmlKey := usage(t, "block-v1:edX+DemoX+2026+type@html+block@h1")
	chapter := &block.Authored{
		UsageKey: chapterKey,
		Type:     chapterType,
		Children: []keys.UsageKey{htmlKey},
		Fields:   map[string]any{},
	}
	html := &block.Authored{
		UsageKey: htmlKey,
		Type:     htmlType,
		Parent:   &chapterKey,
		Fields:   map[string]any{"data": "<p>hello</p>", "display_name": "Intro"},
	}
	byKey := map[string]*block.Authored{
		chapterKey.String(): chapter,
		htmlKey.String():    html,
	}
	lookup := func(ctx context.Context, u keys.UsageKey) *block.Authored {
		return byKey[u.String()]
	}
	return chapter, html, lookup
}

func newUserStack(t *testing.T, parent ParentLookup, overrides []OverrideLayer, dates DateLookup) (*Stack, *Cache) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	smRepo := state.NewStudentModuleRepo(db, log)
	tagRepo := state.NewUserCourseTagRepo(db, log)

	course, err := keys.ParseCourseKey("course-v1:edX+DemoX+2026")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	cache, err := NewCache(context.Background(), smRepo, log, course, uuid.New(), nil, nil, CacheOptions{})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	stack := NewStack(StackConfig{
		Dates:     dates,
		Overrides: overrides,
		Student:   NewStudentStateLayer(cache, tagRepo),
		Parent:    parent,
	})
	return stack, cache
}

func TestStackAuthoredReadAndReadOnlyWrite(t *testing.T) {
	_, html, parent := tree(t)
	stack, _ := newUserStack(t, parent, nil, nil)
	ctx := context.Background()

	v, err := stack.Get(ctx, html, "data")
	if err != nil {
		t.Fatalf("Get(data): %v", err)
	}
	if v != "<p>hello</p>" {
		t.Fatalf("Get(data): %v", v)
	}

	if err := stack.Set(ctx, html, "data", "nope"); !errors.Is(err, pkgerrors.ErrReadOnlyAuthored) {
		t.Fatalf("Set(authored): expected ErrReadOnlyAuthored, got %v", err)
	}
}

func TestStackUserStateWriteAndRead(t *testing.T) {
	_, html, parent := tree(t)
	stack, _ := newUserStack(t, parent, nil, nil)
	ctx := context.Background()

	if err := stack.Set(ctx, html, "viewed", true); err != nil {
		t.Fatalf("Set(viewed): %v", err)
	}
	v, err := stack.Get(ctx, html, "viewed")
	if err != nil {
		t.Fatalf("Get(viewed): %v", err)
	}
	if v != true {
		t.Fatalf("Get(viewed): %v", v)
	}

	if err := stack.Delete(ctx, html, "viewed"); err != nil {
		t.Fatalf("Delete(viewed): %v", err)
	}
	if _, err := stack.Get(ctx, html, "viewed"); !errors.Is(err, pkgerrors.ErrFieldNotFound) {
		t.Fatalf("Get after delete: expected ErrFieldNotFound, got %v", err)
	}
}

func TestStackSetScopedRejectsWrongScope(t *testing.T) {
	_, html, parent := tree(t)
	stack, _ := newUserStack(t, parent, nil, nil)
	ctx := context.Background()

	err := stack.SetScoped(ctx, html, block.ScopePreferences, "viewed", true)
	if !errors.Is(err, pkgerrors.ErrInvalidScope) {
		t.Fatalf("SetScoped wrong scope: expected ErrInvalidScope, got %v", err)
	}
	if err := stack.SetScoped(ctx, html, block.ScopeUserState, "viewed", true); err != nil {
		t.Fatalf("SetScoped right scope: %v", err)
	}
}

type staticOverride struct {
	values map[string]any
}

func (o staticOverride) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	if v, ok := o.values[name]; ok {
		return v, nil
	}
	return nil, pkgerrors.ErrFieldNotFound
}

func TestStackOverridePrecedence(t *testing.T) {
	_, html, parent := tree(t)
	first := staticOverride{values: map[string]any{"display_name": "First"}}
	second := staticOverride{values: map[string]any{"display_name": "Second", "data": "<p>override</p>"}}
	stack, _ := newUserStack(t, parent, []OverrideLayer{first, second}, nil)
	ctx := context.Background()

	v, err := stack.Get(ctx, html, "display_name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "First" {
		t.Fatalf("first provider should win, got %v", v)
	}

	// Only the second provider answers for data.
	v, err = stack.Get(ctx, html, "data")
	if err != nil {
		t.Fatalf("Get(data): %v", err)
	}
	if v != "<p>override</p>" {
		t.Fatalf("Get(data): %v", v)
	}
}

func TestStackDisableOverridesNests(t *testing.T) {
	_, html, parent := tree(t)
	ov := staticOverride{values: map[string]any{"data": "<p>override</p>"}}
	stack, _ := newUserStack(t, parent, []OverrideLayer{ov}, nil)
	ctx := context.Background()

	read := func() any {
		v, err := stack.Get(ctx, html, "data")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		return v
	}

	if v := read(); v != "<p>override</p>" {
		t.Fatalf("outside context: %v", v)
	}
	err := stack.Env().DisableOverrides(func() error {
		if v := read(); v != "<p>hello</p>" {
			t.Fatalf("inside context: %v", v)
		}
		// Nested disablement stacks.
		return stack.Env().DisableOverrides(func() error {
			if v := read(); v != "<p>hello</p>" {
				t.Fatalf("nested context: %v", v)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("DisableOverrides: %v", err)
	}
	if v := read(); v != "<p>override</p>" {
		t.Fatalf("after context: %v", v)
	}
}

func TestStackInheritance(t *testing.T) {
	chapter, html, parent := tree(t)
	stack, _ := newUserStack(t, parent, nil, nil)
	ctx := context.Background()

	// No override anywhere: has is false, default is the declared default.
	has, err := stack.Has(ctx, html, "graded")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatalf("Has(graded): expected false with no overrides")
	}
	def, err := stack.Default(html, "graded")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if def != false {
		t.Fatalf("Default(graded): %v", def)
	}

	// Ancestor override forces has false and re-resolves the default.
	chapter.Fields["graded"] = true
	has, err = stack.Has(ctx, html, "graded")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatalf("Has(graded): expected false when ancestor overrides")
	}
	def, err = stack.Default(html, "graded")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if def != true {
		t.Fatalf("Default(graded) with ancestor override: %v", def)
	}
}

func TestStackDateSubstitution(t *testing.T) {
	chapter, html, parent := tree(t)
	_ = chapter
	authored := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	html.Fields["due"] = authored

	dates := NewExtensionDateLookup()
	extended := authored.Add(7 * 24 * time.Hour)
	dates.Extend(html, "due", extended)

	stack, _ := newUserStack(t, parent, nil, dates)
	ctx := context.Background()

	v, err := stack.Get(ctx, html, "due")
	if err != nil {
		t.Fatalf("Get(due): %v", err)
	}
	got, ok := v.(time.Time)
	if !ok || !got.Equal(extended) {
		t.Fatalf("Get(due): %v, want %v", v, extended)
	}
}

func TestStackMasqueradeDivertsWrites(t *testing.T) {
	_, html, parent := tree(t)
	stack, cache := newUserStack(t, parent, nil, nil)
	ctx := context.Background()

	session := NewMapSessionStore()
	masq := stack.WithMasquerade(session)

	if err := masq.Set(ctx, html, "viewed", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// The masquerading stack reads its own write back.
	v, err := masq.Get(ctx, html, "viewed")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != true {
		t.Fatalf("Get: %v", v)
	}
	// The real state never saw the write.
	if _, err := cache.GetField(ctx, html.UsageKey, "viewed"); !errors.Is(err, pkgerrors.ErrFieldNotFound) {
		t.Fatalf("real state saw masquerade write: %v", err)
	}
	// Flush while masquerading persists nothing.
	if err := masq.Flush(ctx, html); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
