// Package toc builds the per-viewer course outline.
package toc

import (
	"context"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

// Section is one sequential entry in the outline.
type Section struct {
	DisplayName string                   `json:"display_name"`
	URLName     string                   `json:"url_name"`
	Format      string                   `json:"format"`
	Graded      bool                     `json:"graded"`
	Active      bool                     `json:"active"`
	Proctoring  *block.ProctoringAttempt `json:"proctoring,omitempty"`
}

type Chapter struct {
	DisplayName string     `json:"display_name"`
	URLName     string     `json:"url_name"`
	Active      bool       `json:"active"`
	Sections    []*Section `json:"sections"`
}

// TOC is the rendered outline plus the active section's neighbors, nil at
// the boundaries.
type TOC struct {
	Chapters                []*Chapter `json:"chapters"`
	PreviousOfActiveSection *Section   `json:"previous_of_active_section"`
	NextOfActiveSection     *Section   `json:"next_of_active_section"`
}

// FieldReader resolves a field for a block through the viewer's field-data
// stack, so per-user overrides and date extensions shape the outline.
type FieldReader func(ctx context.Context, a *block.Authored, name string) (any, bool)

type Builder struct {
	log        *logger.Logger
	store      modulestore.Store
	proctoring block.ProctoringService
}

func NewBuilder(baseLog *logger.Logger, store modulestore.Store, proctoring block.ProctoringService) *Builder {
	return &Builder{
		log:        baseLog.With("component", "TOCBuilder"),
		store:      store,
		proctoring: proctoring,
	}
}

// BuildInput names the course and the active position. EntranceExamPassed
// lifts the required-content filter for viewers who may skip the exam.
type BuildInput struct {
	Viewer              requestdata.Viewer
	Course              keys.CourseKey
	ActiveChapter       string
	ActiveSection       string
	Fields              FieldReader
	CanSkipEntranceExam bool
}

func (b *Builder) Build(ctx context.Context, in BuildInput) (*TOC, error) {
	course, err := b.store.GetCourse(ctx, in.Course)
	if err != nil {
		return nil, err
	}

	required := b.requiredContent(ctx, in, course)

	out := &TOC{}
	chapters := make([]*Chapter, 0, len(course.Children))
	var prev *Section
	activeSeen := false

	for _, chapterKey := range course.Children {
		chapterBlock, err := b.store.GetBlock(ctx, chapterKey)
		if err != nil {
			continue
		}
		if b.fieldBool(ctx, in, chapterBlock, "hide_from_toc") {
			continue
		}
		if len(required) > 0 && !required[chapterKey.String()] {
			continue
		}

		chapter := &Chapter{
			DisplayName: b.fieldString(ctx, in, chapterBlock, "display_name"),
			URLName:     chapterKey.BlockID,
		}

		for _, sectionKey := range chapterBlock.Children {
			sectionBlock, err := b.store.GetBlock(ctx, sectionKey)
			if err != nil {
				continue
			}
			if b.fieldBool(ctx, in, sectionBlock, "hide_from_toc") {
				continue
			}
			section := &Section{
				DisplayName: b.fieldString(ctx, in, sectionBlock, "display_name"),
				URLName:     sectionKey.BlockID,
				Format:      b.fieldString(ctx, in, sectionBlock, "format"),
				Graded:      b.fieldBool(ctx, in, sectionBlock, "graded"),
			}
			if chapter.URLName == in.ActiveChapter && section.URLName == in.ActiveSection {
				section.Active = true
				chapter.Active = true
				out.PreviousOfActiveSection = prev
				activeSeen = true
			} else if activeSeen && out.NextOfActiveSection == nil {
				out.NextOfActiveSection = section
			}
			b.attachProctoring(ctx, in, sectionBlock, sectionKey, section)
			chapter.Sections = append(chapter.Sections, section)
			prev = section
		}
		chapters = append(chapters, chapter)
	}
	out.Chapters = chapters
	return out, nil
}

// requiredContent returns the usage keys the viewer is limited to, or nil
// when the course imposes none. The entrance-exam chapter drops out of the
// list for viewers allowed to skip it.
func (b *Builder) requiredContent(ctx context.Context, in BuildInput, course *block.Authored) map[string]bool {
	raw, ok := in.Fields(ctx, course, "required_content")
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	required := map[string]bool{}
	for _, entry := range list {
		s, ok := entry.(string)
		if !ok {
			continue
		}
		if in.CanSkipEntranceExam && b.isEntranceExam(ctx, in, s) {
			continue
		}
		required[s] = true
	}
	if len(required) == 0 && in.CanSkipEntranceExam {
		// Every required entry was the skippable exam; no filter remains.
		return nil
	}
	return required
}

func (b *Builder) isEntranceExam(ctx context.Context, in BuildInput, usage string) bool {
	u, err := keys.ParseUsageKey(usage)
	if err != nil {
		return false
	}
	a, err := b.store.GetBlock(ctx, u)
	if err != nil {
		return false
	}
	if b.fieldBool(ctx, in, a, "is_entrance_exam") {
		return true
	}
	for _, child := range a.Children {
		if c, err := b.store.GetBlock(ctx, child); err == nil && b.fieldBool(ctx, in, c, "is_entrance_exam") {
			return true
		}
	}
	return false
}

// attachProctoring decorates timed and proctored sections with the exam
// attempt context. Proctoring failures never break the outline.
func (b *Builder) attachProctoring(ctx context.Context, in BuildInput, sectionBlock *block.Authored, sectionKey keys.UsageKey, section *Section) {
	if b.proctoring == nil || !in.Viewer.IsAuthenticated {
		return
	}
	timed := b.fieldBool(ctx, in, sectionBlock, "is_time_limited") ||
		b.fieldBool(ctx, in, sectionBlock, "is_proctored_exam")
	if !timed {
		return
	}
	attempt, err := b.proctoring.AttemptStatus(ctx, in.Viewer.EffectiveUserID(), sectionKey)
	if err != nil {
		b.log.Warn("Proctoring lookup failed, omitting exam context",
			"usage_key", sectionKey.String(),
			"error", err,
		)
		return
	}
	section.Proctoring = &attempt
}

func (b *Builder) fieldBool(ctx context.Context, in BuildInput, a *block.Authored, name string) bool {
	v, ok := in.Fields(ctx, a, name)
	if !ok {
		return false
	}
	t, _ := v.(bool)
	return t
}

func (b *Builder) fieldString(ctx context.Context, in BuildInput, a *block.Authored, name string) string {
	v, ok := in.Fields(ctx, a, name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
