package builtin

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

func displayNameField() block.FieldDef {
	return block.FieldDef{Name: "display_name", Scope: block.ScopeSettings, Default: ""}
}

// containerView renders a structural block as a div of child placeholders.
// Children are bound and rendered by the page composer, not here.
func containerView(kind string) block.ViewFunc {
	return func(ctx context.Context, b *block.Bound, viewCtx map[string]any) (*block.Fragment, error) {
		var sb strings.Builder
		name := b.GetString(ctx, "display_name")
		sb.WriteString(fmt.Sprintf(`<div class="%s" data-usage-id="%s">`, kind, html.EscapeString(b.UsageKey().String())))
		if name != "" {
			sb.WriteString(fmt.Sprintf(`<h2>%s</h2>`, html.EscapeString(name)))
		}
		for _, child := range b.Authored.Children {
			sb.WriteString(fmt.Sprintf(`<div class="xblock-child" data-usage-id="%s"></div>`, html.EscapeString(child.String())))
		}
		sb.WriteString(`</div>`)
		return block.NewFragment(sb.String()), nil
	}
}

func courseType() *block.Type {
	return &block.Type{
		Name: "course",
		Fields: map[string]block.FieldDef{
			"display_name":                    displayNameField(),
			"entrance_exam_enabled":           {Name: "entrance_exam_enabled", Scope: block.ScopeSettings, Default: false},
			"entrance_exam_id":                {Name: "entrance_exam_id", Scope: block.ScopeSettings, Default: ""},
			"entrance_exam_minimum_score_pct": {Name: "entrance_exam_minimum_score_pct", Scope: block.ScopeSettings, Default: 0.65},
			"user_partitions":                 {Name: "user_partitions", Scope: block.ScopeSettings, Default: []any{}},
			"required_content":                {Name: "required_content", Scope: block.ScopeSettings, Default: []any{}},
			"hide_progress_tab":               {Name: "hide_progress_tab", Scope: block.ScopeSettings, Default: false},
		},
		Views: map[string]block.ViewFunc{
			"student_view": containerView("course"),
		},
	}
}

func chapterType() *block.Type {
	return &block.Type{
		Name: "chapter",
		Fields: map[string]block.FieldDef{
			"display_name":  displayNameField(),
			"hide_from_toc": {Name: "hide_from_toc", Scope: block.ScopeSettings, Default: false},
		},
		Views: map[string]block.ViewFunc{
			"student_view": containerView("chapter"),
		},
	}
}

func sequentialType() *block.Type {
	return &block.Type{
		Name: "sequential",
		Fields: map[string]block.FieldDef{
			"display_name":      displayNameField(),
			"hide_from_toc":     {Name: "hide_from_toc", Scope: block.ScopeSettings, Default: false},
			"hide_after_due":    {Name: "hide_after_due", Scope: block.ScopeSettings, Default: false},
			"is_entrance_exam":  {Name: "is_entrance_exam", Scope: block.ScopeSettings, Default: false},
			"is_time_limited":   {Name: "is_time_limited", Scope: block.ScopeSettings, Default: false},
			"is_proctored_exam": {Name: "is_proctored_exam", Scope: block.ScopeSettings, Default: false},
			"position":          {Name: "position", Scope: block.ScopeUserState, Default: 1},
		},
		Views: map[string]block.ViewFunc{
			"student_view": containerView("sequential"),
		},
	}
}

func verticalType() *block.Type {
	return &block.Type{
		Name: "vertical",
		Fields: map[string]block.FieldDef{
			"display_name": displayNameField(),
		},
		Views: map[string]block.ViewFunc{
			"student_view": containerView("vertical"),
		},
	}
}
