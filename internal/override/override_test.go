package override

import (
	"context"
	"testing"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

type fakeProvider struct {
	name       string
	enabled    bool
	values     map[string]any
	enabledFor int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) EnabledFor(course keys.CourseKey) bool {
	p.enabledFor++
	return p.enabled
}

func (p *fakeProvider) Get(ctx context.Context, viewer requestdata.Viewer, b *block.Authored, name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

func testBlock(t *testing.T) *block.Authored {
	t.Helper()
	u, err := keys.ParseUsageKey("block-v1:edX+DemoX+2026+type@html+block@h1")
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	return &block.Authored{
		UsageKey: u,
		Type: &block.Type{Name: "html", Fields: map[string]block.FieldDef{
			"display_name": {Name: "display_name", Scope: block.ScopeSettings, Default: "Text"},
		}},
		Fields: map[string]any{"display_name": "Authored"},
	}
}

func courseKey(t *testing.T) keys.CourseKey {
	t.Helper()
	ck, err := keys.ParseCourseKey("course-v1:edX+DemoX+2026")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	return ck
}

func TestLayerOrderingFirstAnswerWins(t *testing.T) {
	first := &fakeProvider{name: "first", enabled: true, values: map[string]any{"display_name": "One"}}
	second := &fakeProvider{name: "second", enabled: true, values: map[string]any{"display_name": "Two"}}
	reg := NewRegistryFromProviders(first, second)

	layer := reg.ForRequest().Layer(courseKey(t), requestdata.Anonymous())
	v, err := layer.Get(context.Background(), testBlock(t), "display_name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "One" {
		t.Fatalf("ordering: got %v", v)
	}
}

func TestLayerPassesWhenNoProviderAnswers(t *testing.T) {
	p := &fakeProvider{name: "p", enabled: true, values: map[string]any{}}
	layer := NewRegistryFromProviders(p).ForRequest().Layer(courseKey(t), requestdata.Anonymous())
	_, err := layer.Get(context.Background(), testBlock(t), "display_name")
	if err != pkgerrors.ErrFieldNotFound {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestEnabledSubsetComputedOncePerRequest(t *testing.T) {
	on := &fakeProvider{name: "on", enabled: true, values: map[string]any{}}
	off := &fakeProvider{name: "off", enabled: false, values: map[string]any{"x": 1}}
	reg := NewRegistryFromProviders(on, off)

	ro := reg.ForRequest()
	ck := courseKey(t)
	if got := len(ro.EnabledFor(ck)); got != 1 {
		t.Fatalf("enabled subset: %d", got)
	}
	ro.EnabledFor(ck)
	ro.EnabledFor(ck)
	if on.enabledFor != 1 || off.enabledFor != 1 {
		t.Fatalf("EnabledFor not cached per request: on=%d off=%d", on.enabledFor, off.enabledFor)
	}
}

type plainFieldData struct{}

func (plainFieldData) Get(ctx context.Context, b *block.Authored, name string) (any, error) {
	if v, ok := b.Fields[name]; ok {
		return v, nil
	}
	return nil, pkgerrors.ErrFieldNotFound
}
func (plainFieldData) Set(ctx context.Context, b *block.Authored, name string, value any) error {
	return pkgerrors.ErrReadOnlyAuthored
}
func (plainFieldData) Delete(ctx context.Context, b *block.Authored, name string) error {
	return pkgerrors.ErrReadOnlyAuthored
}
func (plainFieldData) Has(ctx context.Context, b *block.Authored, name string) (bool, error) {
	_, ok := b.Fields[name]
	return ok, nil
}
func (plainFieldData) Default(b *block.Authored, name string) (any, error) {
	return nil, pkgerrors.ErrFieldNotFound
}

func TestWrapIsIdempotent(t *testing.T) {
	p := &fakeProvider{name: "p", enabled: true, values: map[string]any{"display_name": "Wrapped"}}
	reg := NewRegistryFromProviders(p)
	ck := courseKey(t)

	var base block.FieldData = plainFieldData{}
	wrapped := Wrap(base, reg, ck)
	if wrapped == base {
		t.Fatalf("Wrap returned the unwrapped field-data")
	}
	again := Wrap(wrapped, reg, ck)
	if again != wrapped {
		t.Fatalf("double wrap created a new wrapper")
	}

	v, err := wrapped.Get(context.Background(), testBlock(t), "display_name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "Wrapped" {
		t.Fatalf("Get through wrap: %v", v)
	}
}

func TestRegistryFactoryLookup(t *testing.T) {
	RegisterFactory("test_static", func() Provider {
		return &fakeProvider{name: "test_static", enabled: true, values: map[string]any{}}
	})
	reg, err := NewRegistry([]string{"test_static"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Empty() {
		t.Fatalf("registry empty after construction")
	}
	if _, err := NewRegistry([]string{"does_not_exist"}); err == nil {
		t.Fatalf("unknown provider name accepted")
	}
}
