package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/fielddata"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/toc"
)

// TOCHandler serves the course outline for the courseware navigation pane.
// The outline reads fields through the viewer's bound course, so per-user
// overrides and date extensions shape what each learner sees.
type TOCHandler struct {
	log       *logger.Logger
	store     modulestore.Store
	binder    *binding.Binder
	overrides *override.Registry
	builder   *toc.Builder
}

func NewTOCHandler(log *logger.Logger, store modulestore.Store, binder *binding.Binder, overrides *override.Registry, builder *toc.Builder) *TOCHandler {
	handlerLog := log.With("handler", "TOCHandler")
	return &TOCHandler{log: handlerLog, store: store, binder: binder, overrides: overrides, builder: builder}
}

func (h *TOCHandler) GetTOC(c *gin.Context) {
	ctx := c.Request.Context()

	course, err := keys.ParseCourseKey(keys.Unescape(c.Param("courseID")))
	if err != nil {
		RespondError(c, http.StatusNotFound, "invalid_key", err)
		return
	}

	viewer := requestdata.Anonymous()
	token := uuid.NewString()
	if rd := requestdata.GetRequestData(ctx); rd != nil {
		viewer = rd.Viewer
		token = rd.RequestToken
	}

	courseBlock, err := h.store.GetCourse(ctx, course)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}

	var reqOverrides *override.RequestOverrides
	if !h.overrides.Empty() {
		reqOverrides = h.overrides.ForRequest()
	}
	bound, err := h.binder.Bind(ctx, binding.BindInput{
		Authored:     courseBlock,
		Viewer:       viewer,
		Course:       course,
		Env:          fielddata.NewEnv(),
		Overrides:    reqOverrides,
		RequestToken: token,
	})
	if err != nil {
		h.log.Error("Outline bind failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if bound == nil {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrContentNotFound)
		return
	}

	outline, err := h.builder.Build(ctx, toc.BuildInput{
		Viewer:              viewer,
		Course:              course,
		ActiveChapter:       c.Query("active_chapter"),
		ActiveSection:       c.Query("active_section"),
		Fields:              stackFieldReader(bound.FieldData),
		CanSkipEntranceExam: viewer.IsStaff,
	})
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondOK(c, outline)
}

// stackFieldReader resolves fields through the bound course's field-data
// stack, falling back to the type default when no layer answers.
func stackFieldReader(fd block.FieldData) toc.FieldReader {
	return func(ctx context.Context, a *block.Authored, name string) (any, bool) {
		v, err := fd.Get(ctx, a, name)
		if errors.Is(err, pkgerrors.ErrFieldNotFound) {
			v, err = fd.Default(a, name)
		}
		if err != nil || v == nil {
			return nil, false
		}
		return v, true
	}
}
