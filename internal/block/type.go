package block

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

type ViewFunc func(ctx context.Context, b *Bound, viewCtx map[string]any) (*Fragment, error)

type HandlerFunc func(ctx context.Context, b *Bound, r *http.Request, suffix string) (*HandlerResponse, error)

// AjaxFunc is the legacy dispatch surface; the external-grader ingress
// re-enters blocks through it.
type AjaxFunc func(ctx context.Context, b *Bound, dispatch string, data url.Values) (string, error)

// HandlerResponse is the block-level result the dispatcher converts into an
// HTTP response.
type HandlerResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

func JSONResponse(body []byte) *HandlerResponse {
	return &HandlerResponse{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

// Handler pairs a handler function with dispatch metadata.
type Handler struct {
	Fn HandlerFunc
	// WillRecheckAccess advertises that the handler re-renders content and
	// will surface an access message itself, so binding should return the
	// block even on a recoverable denial.
	WillRecheckAccess bool
}

// Type describes one block type: its fields, views, handlers, and binding
// behavior. Types are registered once at startup; the registry stays open
// for plugins.
type Type struct {
	Name   string
	Fields map[string]FieldDef

	Views    map[string]ViewFunc
	Handlers map[string]Handler
	Ajax     AjaxFunc

	// RequiresPerLearnerID selects the course-independent anonymized id.
	RequiresPerLearnerID bool
	// HasCustomCompletion suppresses the deprecated progress-event fallback.
	HasCustomCompletion bool
	// Detached types render outside the course tree and skip staff markup.
	Detached bool
	// BlockSettingsKey overrides the settings-bucket lookup key.
	BlockSettingsKey string
}

// SettingsKey is the bucket name used by the settings service.
func (t *Type) SettingsKey() string {
	if t.BlockSettingsKey != "" {
		return t.BlockSettingsKey
	}
	return t.Name
}

// InheritedFieldDefs are fields every block resolves through its ancestor
// chain when it has no override of its own.
var InheritedFieldDefs = map[string]FieldDef{
	"start":                 {Name: "start", Scope: ScopeSettings, Inheritable: true, IsDate: true},
	"due":                   {Name: "due", Scope: ScopeSettings, Inheritable: true, IsDate: true},
	"visible_to_staff_only": {Name: "visible_to_staff_only", Scope: ScopeSettings, Inheritable: true, Default: false},
	"graded":                {Name: "graded", Scope: ScopeSettings, Inheritable: true, Default: false},
	"format":                {Name: "format", Scope: ScopeSettings, Inheritable: true, Default: ""},
	"self_paced":            {Name: "self_paced", Scope: ScopeSettings, Inheritable: true, Default: false},
	"static_asset_path":     {Name: "static_asset_path", Scope: ScopeSettings, Inheritable: true, Default: ""},
}

// TypeRegistry maps type names to registered block types. Reads are
// concurrent with (rare) plugin registrations.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]*Type
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: map[string]*Type{}}
}

func (r *TypeRegistry) Register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("block type %q already registered", t.Name)
	}
	if t.Fields == nil {
		t.Fields = map[string]FieldDef{}
	}
	if t.Views == nil {
		t.Views = map[string]ViewFunc{}
	}
	if t.Handlers == nil {
		t.Handlers = map[string]Handler{}
	}
	r.types[t.Name] = t
	return nil
}

func (r *TypeRegistry) Get(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	return out
}

// ParseDate interprets an authored date field value.
func ParseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
