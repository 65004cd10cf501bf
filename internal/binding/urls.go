package binding

import (
	"fmt"
	"strings"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
)

// CourseURLBuilder produces learner-facing handler and view URLs. Usage ids
// are escape-encoded so block ids containing slashes survive routing.
type CourseURLBuilder struct{}

func (CourseURLBuilder) HandlerURL(a *block.Authored, handler, suffix string) string {
	base := fmt.Sprintf("/courses/%s/xblock/%s/handler/%s",
		a.UsageKey.CourseKey.ForBranch().String(),
		keys.Escape(a.UsageKey.String()),
		handler,
	)
	if suffix != "" {
		base += "/" + strings.TrimLeft(suffix, "/")
	}
	return base
}

func (CourseURLBuilder) ViewURL(a *block.Authored, view string) string {
	return fmt.Sprintf("/courses/%s/xblock/%s/view/%s",
		a.UsageKey.CourseKey.ForBranch().String(),
		keys.Escape(a.UsageKey.String()),
		view,
	)
}
