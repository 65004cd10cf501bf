package builtin

import (
	"context"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

func htmlType() *block.Type {
	return &block.Type{
		Name: "html",
		Fields: map[string]block.FieldDef{
			"display_name": displayNameField(),
			"data":         {Name: "data", Scope: block.ScopeContent, Default: ""},
			"editor":       {Name: "editor", Scope: block.ScopeSettings, Default: "visual"},
		},
		Views: map[string]block.ViewFunc{
			"student_view": func(ctx context.Context, b *block.Bound, viewCtx map[string]any) (*block.Fragment, error) {
				return block.NewFragment(b.GetString(ctx, "data")), nil
			},
		},
	}
}
