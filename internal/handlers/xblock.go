package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/fielddata"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
	"github.com/openlearnhq/xblock-runtime/internal/wrappers"
)

const multipartMemoryLimit = 32 << 20

// XBlockConfig carries the dispatcher's deployment knobs.
type XBlockConfig struct {
	MaxUploadsPerInput  int
	UploadMaxSizeBytes  int64
	ViewEndpointEnabled bool
	LicenseEnabled      bool
	StaffDebugEnabled   bool
}

// XBlockHandler accepts browser callbacks targeting a block handler, binds
// the block for the caller, dispatches, and maps the outcome onto HTTP.
type XBlockHandler struct {
	log       *logger.Logger
	store     modulestore.Store
	binder    *binding.Binder
	overrides *override.Registry
	smRepo    repos.StudentModuleRepo
	sink      services.TrackingSink
	disabled  *services.DisabledBlockService
	cfg       XBlockConfig
}

func NewXBlockHandler(
	log *logger.Logger,
	store modulestore.Store,
	binder *binding.Binder,
	overrides *override.Registry,
	smRepo repos.StudentModuleRepo,
	sink services.TrackingSink,
	disabled *services.DisabledBlockService,
	cfg XBlockConfig,
) *XBlockHandler {
	handlerLog := log.With("handler", "XBlockHandler")
	return &XBlockHandler{
		log:       handlerLog,
		store:     store,
		binder:    binder,
		overrides: overrides,
		smRepo:    smRepo,
		sink:      sink,
		disabled:  disabled,
		cfg:       cfg,
	}
}

// HandleCallback serves both the authenticated route and the handler_noauth
// alias; the difference is all in the middleware chain in front of it.
func (h *XBlockHandler) HandleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.validateUploads(c); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": err.Error()})
		return
	}

	target, ok := h.resolveTarget(c)
	if !ok {
		return
	}

	handlerName := c.Param("handler")
	suffix := strings.TrimPrefix(c.Param("suffix"), "/")

	willRecheck := false
	if hd, found := target.authored.Type.Handlers[handlerName]; found {
		willRecheck = hd.WillRecheckAccess
	}

	rd := requestdata.GetRequestData(ctx)
	bound, err := h.bind(ctx, target, rd, bindOptions{willRecheckAccess: willRecheck})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if bound == nil {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrContentNotFound)
		return
	}

	ctx = services.WithTrackingContext(ctx, h.trackingContext(ctx, target, bound))

	resp, err := bound.Handle(ctx, handlerName, c.Request, suffix)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := resp.Body
	if h.isEntranceExamCheck(ctx, target, handlerName, suffix) {
		body = h.annotateEntranceExam(ctx, target, rd, body)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, body)
}

// HandleView renders a named view as JSON. Disabled deployments hide the
// route entirely behind a 404.
func (h *XBlockHandler) HandleView(c *gin.Context) {
	if !h.cfg.ViewEndpointEnabled {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrNotFound)
		return
	}
	ctx := c.Request.Context()

	target, ok := h.resolveTarget(c)
	if !ok {
		return
	}

	rd := requestdata.GetRequestData(ctx)
	bound, err := h.bind(ctx, target, rd, bindOptions{wrapDisplay: true})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if bound == nil {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrContentNotFound)
		return
	}

	frag, err := bound.Render(ctx, c.Param("view"), nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resources := make([][2]any, 0, len(frag.Resources))
	for _, r := range frag.Resources {
		resources = append(resources, [2]any{r.Hash(), r})
	}
	RespondOK(c, gin.H{
		"html":       frag.Content,
		"resources":  resources,
		"csrf_token": h.ensureCSRFCookie(c),
	})
}

// callbackTarget is the parsed addressing of one dispatch: the course, the
// block actually loaded, and the aside key when the URL named one.
type callbackTarget struct {
	course   keys.CourseKey
	usage    keys.UsageKey
	aside    *keys.AsideKey
	authored *block.Authored
}

func (h *XBlockHandler) resolveTarget(c *gin.Context) (callbackTarget, bool) {
	var target callbackTarget

	course, err := keys.ParseCourseKey(keys.Unescape(c.Param("courseID")))
	if err != nil {
		RespondError(c, http.StatusNotFound, "invalid_key", err)
		return target, false
	}
	target.course = course

	rawUsage := keys.Unescape(c.Param("usageID"))
	if keys.IsAsideKey(rawUsage) {
		asideKey, err := keys.ParseAsideKey(rawUsage)
		if err != nil {
			RespondError(c, http.StatusNotFound, "invalid_key", err)
			return target, false
		}
		target.aside = &asideKey
		target.usage = asideKey.UsageKey.MapIntoCourse(course)
	} else {
		usage, err := keys.ParseUsageKey(rawUsage)
		if err != nil {
			RespondError(c, http.StatusNotFound, "invalid_key", err)
			return target, false
		}
		target.usage = usage.MapIntoCourse(course)
	}

	authored, err := h.store.GetBlock(c.Request.Context(), target.usage)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return target, false
	}
	if h.renderDisabled(c.Request.Context(), authored.Type.Name) {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrContentNotFound)
		return target, false
	}
	target.authored = authored
	return target, true
}

// renderDisabled consults the versioned deployment switch; a failed read
// fails open so a config-table outage cannot take down dispatch.
func (h *XBlockHandler) renderDisabled(ctx context.Context, blockType string) bool {
	if h.disabled == nil {
		return false
	}
	snap, err := h.disabled.Snapshot(ctx)
	if err != nil {
		h.log.Warn("Disabled-block snapshot read failed", "error", err)
		return false
	}
	return snap.RenderDisabled(blockType)
}

type bindOptions struct {
	willRecheckAccess bool
	wrapDisplay       bool
}

func (h *XBlockHandler) bind(ctx context.Context, target callbackTarget, rd *requestdata.RequestData, opts bindOptions) (*block.Bound, error) {
	viewer := requestdata.Anonymous()
	token := uuid.NewString()
	crawler := false
	if rd != nil {
		viewer = rd.Viewer
		token = rd.RequestToken
		crawler = rd.Crawler
	}

	pipeline := wrappers.NewPipeline(wrappers.Config{
		Log:               h.log,
		LicenseEnabled:    h.cfg.LicenseEnabled,
		StaffDebugEnabled: h.cfg.StaffDebugEnabled,
	}, viewer)

	var reqOverrides *override.RequestOverrides
	if !h.overrides.Empty() {
		reqOverrides = h.overrides.ForRequest()
	}

	return h.binder.Bind(ctx, binding.BindInput{
		Authored:          target.authored,
		Viewer:            viewer,
		Course:            target.course,
		Env:               fielddata.NewEnv(),
		Overrides:         reqOverrides,
		Wrappers:          pipeline.Wrappers(),
		RequestToken:      token,
		WrapDisplay:       opts.wrapDisplay,
		WillRecheckAccess: opts.willRecheckAccess,
		ReadOnly:          crawler,
		StaticAssetPath:   h.staticAssetPath(ctx, target.course),
	})
}

func (h *XBlockHandler) staticAssetPath(ctx context.Context, course keys.CourseKey) string {
	courseBlock, err := h.store.GetCourse(ctx, course)
	if err != nil {
		return ""
	}
	if path, ok := courseBlock.Fields["static_asset_path"].(string); ok {
		return path
	}
	return ""
}

// trackingContext is the envelope every event emitted during this dispatch
// carries. The original usage key is included when the URL addressed the
// block through a different course than the one it lives in.
func (h *XBlockHandler) trackingContext(ctx context.Context, target callbackTarget, bound *block.Bound) map[string]any {
	kv := map[string]any{
		"module": map[string]any{
			"usage_key":    target.usage.String(),
			"display_name": bound.GetString(ctx, "display_name"),
		},
	}
	mod := kv["module"].(map[string]any)
	if target.aside != nil {
		mod["original_usage_key"] = target.aside.UsageKey.String()
		kv["asides"] = map[string]any{target.aside.AsideType: map[string]any{}}
	}
	return kv
}

func (h *XBlockHandler) isEntranceExamCheck(ctx context.Context, target callbackTarget, handlerName, suffix string) bool {
	if suffix != "problem_check" && handlerName != "problem_check" {
		return false
	}
	courseBlock, err := h.store.GetCourse(ctx, target.course)
	if err != nil {
		return false
	}
	enabled, _ := courseBlock.Fields["entrance_exam_enabled"].(bool)
	if !enabled {
		return false
	}
	examID, _ := courseBlock.Fields["entrance_exam_id"].(string)
	if examID == "" {
		return false
	}
	examKey, err := keys.ParseUsageKey(examID)
	if err != nil {
		return false
	}
	return h.isDescendant(ctx, examKey, target.usage)
}

func (h *XBlockHandler) isDescendant(ctx context.Context, root, usage keys.UsageKey) bool {
	if root.String() == usage.String() {
		return true
	}
	for _, child := range h.store.Children(ctx, root) {
		if h.isDescendant(ctx, child, usage) {
			return true
		}
	}
	return false
}

// annotateEntranceExam adds entrance_exam_passed to a problem_check JSON
// response so the client can unlock the rest of the course immediately.
func (h *XBlockHandler) annotateEntranceExam(ctx context.Context, target callbackTarget, rd *requestdata.RequestData, body []byte) []byte {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	payload["entrance_exam_passed"] = h.entranceExamPassed(ctx, target, rd)
	annotated, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return annotated
}

// entranceExamPassed sums persisted scores across the exam subtree and
// compares the ratio against the course minimum.
func (h *XBlockHandler) entranceExamPassed(ctx context.Context, target callbackTarget, rd *requestdata.RequestData) bool {
	if rd == nil || !rd.Viewer.IsAuthenticated {
		return false
	}
	courseBlock, err := h.store.GetCourse(ctx, target.course)
	if err != nil {
		return false
	}
	examID, _ := courseBlock.Fields["entrance_exam_id"].(string)
	examKey, err := keys.ParseUsageKey(examID)
	if err != nil {
		return false
	}
	minPct, _ := courseBlock.Fields["entrance_exam_minimum_score_pct"].(float64)

	var usageKeys []string
	h.collectSubtree(ctx, examKey, &usageKeys)
	rows, err := h.smRepo.GetForUsageKeys(ctx, nil, rd.Viewer.EffectiveUserID(), usageKeys)
	if err != nil {
		h.log.Warn("Failed to read entrance exam scores", "error", err)
		return false
	}

	var earned, possible float64
	for _, row := range rows {
		if row.Grade != nil && row.MaxGrade != nil {
			earned += *row.Grade
			possible += *row.MaxGrade
		}
	}
	if possible <= 0 {
		return minPct <= 0
	}
	return earned/possible >= minPct
}

func (h *XBlockHandler) collectSubtree(ctx context.Context, root keys.UsageKey, out *[]string) {
	*out = append(*out, root.String())
	for _, child := range h.store.Children(ctx, root) {
		h.collectSubtree(ctx, child, out)
	}
}

// validateUploads enforces the per-input count cap and the per-file byte
// cap before any handler sees the request.
func (h *XBlockHandler) validateUploads(c *gin.Context) error {
	contentType := c.GetHeader("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return nil
	}
	if err := c.Request.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return nil
	}
	form := c.Request.MultipartForm
	if form == nil {
		return nil
	}
	for _, files := range form.File {
		if h.cfg.MaxUploadsPerInput > 0 && len(files) > h.cfg.MaxUploadsPerInput {
			return fmt.Errorf("Submission aborted! Maximum %d files may be submitted at once", h.cfg.MaxUploadsPerInput)
		}
		for _, file := range files {
			if h.cfg.UploadMaxSizeBytes > 0 && file.Size > h.cfg.UploadMaxSizeBytes {
				return fmt.Errorf("Submission aborted! Your file %q is too large (max size: %d MB)",
					file.Filename, h.cfg.UploadMaxSizeBytes/(1000*1000))
			}
		}
	}
	return nil
}

func (h *XBlockHandler) ensureCSRFCookie(c *gin.Context) string {
	if cookie, err := c.Cookie("csrftoken"); err == nil && cookie != "" {
		return cookie
	}
	token := uuid.NewString()
	c.SetCookie("csrftoken", token, 3600*24*365, "/", "", false, false)
	return token
}

// respondError is the dispatcher's single error-to-HTTP mapping.
func (h *XBlockHandler) respondError(c *gin.Context, err error) {
	var pe *pkgerrors.ProcessingError
	if errors.As(err, &pe) {
		c.JSON(http.StatusOK, gin.H{"success": pe.Msg})
		return
	}
	var ue *pkgerrors.UploadError
	if errors.As(err, &ue) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": ue.Msg})
		return
	}
	switch {
	case errors.Is(err, pkgerrors.ErrHandlerMissing),
		errors.Is(err, pkgerrors.ErrContentNotFound),
		errors.Is(err, pkgerrors.ErrInvalidKey),
		errors.Is(err, pkgerrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	default:
		h.log.Error("Unhandled dispatch error", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
