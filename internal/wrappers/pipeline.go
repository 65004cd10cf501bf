// Package wrappers is the fragment pipeline applied to every rendered view.
// Order is fixed; the binding engine attaches the pipeline as built here.
package wrappers

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

type Config struct {
	Log *logger.Logger

	LicenseEnabled    bool
	StaffDebugEnabled bool

	// RuntimeClass names the hosting runtime in structural markup.
	RuntimeClass string

	// ChildVisible reports whether the effective learner can see a child;
	// nil disables the masquerade display filter.
	ChildVisible func(ctx context.Context, b *block.Bound, child keys.UsageKey) bool
}

// Pipeline holds per-request wrapper state. Build one per request and share
// it across sibling binds so access-message suppression can see previously
// blocked siblings.
type Pipeline struct {
	cfg    Config
	viewer requestdata.Viewer

	// blockedSiblings maps a parent usage key to the denial code last
	// rendered under it.
	blockedSiblings map[string]string
}

func NewPipeline(cfg Config, viewer requestdata.Viewer) *Pipeline {
	if cfg.RuntimeClass == "" {
		cfg.RuntimeClass = "LearnerRuntime"
	}
	return &Pipeline{
		cfg:             cfg,
		viewer:          viewer,
		blockedSiblings: map[string]string{},
	}
}

// Wrappers returns the pipeline in application order.
func (p *Pipeline) Wrappers() []block.FragmentWrapper {
	return []block.FragmentWrapper{
		p.displayBlocksFilter,
		p.licenseWrap,
		p.structuralWrap,
		p.urlReplace,
		p.accessMessageWrap,
		p.bannerWrap,
		p.staffDebugWrap,
	}
}

// displayBlocksFilter removes child placeholders the masqueraded learner
// cannot see, so staff previews match what the learner gets.
func (p *Pipeline) displayBlocksFilter(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	if !p.viewer.IsMasqueradingAsStudent() || p.cfg.ChildVisible == nil {
		return frag, nil
	}
	content := frag.Content
	for _, child := range b.Authored.Children {
		if p.cfg.ChildVisible(ctx, b, child) {
			continue
		}
		placeholder := fmt.Sprintf(`<div class="xblock-child" data-usage-id="%s"></div>`, html.EscapeString(child.String()))
		content = strings.ReplaceAll(content, placeholder, "")
	}
	if content == frag.Content {
		return frag, nil
	}
	out := block.NewFragment(content)
	out.MergeResources(frag)
	return out, nil
}

func (p *Pipeline) licenseWrap(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	if !p.cfg.LicenseEnabled {
		return frag, nil
	}
	license := b.GetString(ctx, "license")
	if license == "" {
		return frag, nil
	}
	out := block.NewFragment(fmt.Sprintf(
		`%s<div class="xblock-license">%s</div>`, frag.Content, html.EscapeString(license)))
	out.MergeResources(frag)
	return out, nil
}

// structuralWrap adds the single container the frontend initializer keys
// off. The id encodes runtime class, escaped usage id, and request token so
// repeated renders of one block on a page stay distinct.
func (p *Pipeline) structuralWrap(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	if !b.Runtime.WrapDisplay {
		return frag, nil
	}
	escaped := keys.Escape(b.UsageKey().String())
	id := fmt.Sprintf("%s-%s-%s", p.cfg.RuntimeClass, escaped, b.Runtime.RequestToken)
	out := block.NewFragment(fmt.Sprintf(
		`<div id="%s" class="xblock" data-usage-id="%s" data-block-type="%s" data-request-token="%s" data-runtime-class="%s" data-view="%s">%s</div>`,
		html.EscapeString(id),
		html.EscapeString(escaped),
		html.EscapeString(b.Type().Name),
		html.EscapeString(b.Runtime.RequestToken),
		html.EscapeString(p.cfg.RuntimeClass),
		html.EscapeString(view),
		frag.Content,
	))
	out.MergeResources(frag)
	return out, nil
}

func (p *Pipeline) urlReplace(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	svc, err := b.Runtime.Service(block.ServiceReplaceURLs)
	if err != nil {
		return frag, nil
	}
	out := block.NewFragment(svc.(block.ReplaceURLsService).ReplaceURLs(frag.Content))
	out.MergeResources(frag)
	return out, nil
}

// accessMessageWrap replaces the fragment of a deny-with-message bind.
// Consecutive blocked siblings under one parent with the same code collapse
// to a single message.
func (p *Pipeline) accessMessageWrap(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	denied := b.AccessDenied
	if denied == nil {
		return frag, nil
	}
	if b.Authored.Parent != nil {
		parent := b.Authored.Parent.String()
		if p.blockedSiblings[parent] == denied.Code {
			return block.NewFragment(""), nil
		}
		p.blockedSiblings[parent] = denied.Code
	}
	if denied.UserFragment != "" {
		return block.NewFragment(denied.UserFragment), nil
	}
	msg := denied.UserMessage
	if msg == "" {
		msg = "You do not have access to this content."
	}
	return block.NewFragment(fmt.Sprintf(
		`<div class="access-denied" data-code="%s">%s</div>`,
		html.EscapeString(denied.Code), html.EscapeString(msg))), nil
}

// bannerWrap prepends course-expiration and offer banners sourced from the
// call-to-action service.
func (p *Pipeline) bannerWrap(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	svc, err := b.Runtime.Service(block.ServiceCallToAction)
	if err != nil {
		return frag, nil
	}
	cta := svc.(block.CallToActionService)
	var banners strings.Builder
	for _, category := range []string{"course_expiration", "offer"} {
		for _, entry := range cta.GetCTAs(ctx, b, category) {
			banners.WriteString(fmt.Sprintf(
				`<div class="banner banner-%s"><a href="%s">%s</a> %s</div>`,
				category,
				html.EscapeString(entry.Link),
				html.EscapeString(entry.LinkName),
				html.EscapeString(entry.Description),
			))
		}
	}
	if banners.Len() == 0 {
		return frag, nil
	}
	out := block.NewFragment(banners.String() + frag.Content)
	out.MergeResources(frag)
	return out, nil
}

// staffDebugWrap appends the staff panel. The staff check runs against the
// real identity, so staff masquerading as a learner keep their panel.
func (p *Pipeline) staffDebugWrap(ctx context.Context, b *block.Bound, view string, frag *block.Fragment, viewCtx map[string]any) (*block.Fragment, error) {
	if !p.cfg.StaffDebugEnabled || !p.viewer.IsStaff {
		return frag, nil
	}
	if b.Type().Detached {
		return frag, nil
	}
	out := block.NewFragment(fmt.Sprintf(
		`%s<div class="staff-debug" data-usage-id="%s" data-block-type="%s"></div>`,
		frag.Content,
		html.EscapeString(b.UsageKey().String()),
		html.EscapeString(b.Type().Name),
	))
	out.MergeResources(frag)
	return out, nil
}
