package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/fielddata"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

// XQueueHandler is the external grader's return path. Possession of the
// correct lms_key authorizes the write, so the block is bound without an
// access check and the block itself discards key mismatches.
type XQueueHandler struct {
	log      *logger.Logger
	store    modulestore.Store
	binder   *binding.Binder
	anonRepo repos.AnonymousIDRepo
}

func NewXQueueHandler(log *logger.Logger, store modulestore.Store, binder *binding.Binder, anonRepo repos.AnonymousIDRepo) *XQueueHandler {
	handlerLog := log.With("handler", "XQueueHandler")
	return &XQueueHandler{log: handlerLog, store: store, binder: binder, anonRepo: anonRepo}
}

func (h *XQueueHandler) HandleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	header := c.PostForm("xqueue_header")
	body := c.PostForm("xqueue_body")
	if header == "" || body == "" {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("missing grader form fields"))
		return
	}

	lmsKey, err := graderLMSKey(header)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}

	userID, err := h.resolveUser(c)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}

	course, err := keys.ParseCourseKey(keys.Unescape(c.Param("courseID")))
	if err != nil {
		RespondError(c, http.StatusNotFound, "invalid_key", err)
		return
	}
	usage, err := keys.ParseUsageKey(keys.Unescape(c.Param("usageID")))
	if err != nil {
		RespondError(c, http.StatusNotFound, "invalid_key", err)
		return
	}
	authored, err := h.store.GetBlock(ctx, usage.MapIntoCourse(course))
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}

	viewer := requestdata.Viewer{UserID: userID, IsAuthenticated: true}
	bound, err := h.binder.Bind(ctx, binding.BindInput{
		Authored:        authored,
		Viewer:          viewer,
		Course:          course,
		Env:             fielddata.NewEnv(),
		RequestToken:    uuid.NewString(),
		SkipAccessCheck: true,
	})
	if err != nil {
		h.log.Error("Grader callback bind failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if bound == nil {
		RespondError(c, http.StatusNotFound, "not_found", pkgerrors.ErrContentNotFound)
		return
	}

	data := url.Values{}
	data.Set("xqueue_header", header)
	data.Set("xqueue_body", body)
	data.Set("queuekey", lmsKey)

	out, err := bound.HandleAjax(ctx, c.Param("dispatch"), data)
	if err != nil {
		h.log.Error("Grader callback dispatch failed", "error", err, "usage_key", usage.String())
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if err := bound.Save(ctx); err != nil {
		h.log.Error("Grader callback save failed", "error", err, "usage_key", usage.String())
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	c.Data(http.StatusOK, "application/json", []byte(out))
}

// resolveUser accepts either the user's primary key or the anonymized id;
// graders frequently only know the anonymized form.
func (h *XQueueHandler) resolveUser(c *gin.Context) (uuid.UUID, error) {
	raw := c.Param("userID")
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}
	id, err := h.anonRepo.LookupUser(c.Request.Context(), nil, raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("unknown grader user %q: %w", raw, err)
	}
	return id, nil
}

func graderLMSKey(rawHeader string) (string, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(rawHeader), &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrMalformedGraderHeader, err)
	}
	lmsKey, ok := parsed["lms_key"].(string)
	if !ok || lmsKey == "" {
		return "", fmt.Errorf("%w: missing lms_key", pkgerrors.ErrMalformedGraderHeader)
	}
	return lmsKey, nil
}
