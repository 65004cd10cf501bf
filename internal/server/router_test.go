package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openlearnhq/xblock-runtime/internal/binding"
	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/block/builtin"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos/testutil"
	"github.com/openlearnhq/xblock-runtime/internal/handlers"
	"github.com/openlearnhq/xblock-runtime/internal/middleware"
	"github.com/openlearnhq/xblock-runtime/internal/modulestore"
	"github.com/openlearnhq/xblock-runtime/internal/override"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
	"github.com/openlearnhq/xblock-runtime/internal/toc"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

const routerCourse = "course-v1:RTR+NAV+2026"

const routerFixture = `
course: ` + routerCourse + `
blocks:
  - usage: block-v1:RTR+NAV+2026+type@course+block@course
    type: course
    fields:
      display_name: Router Course
      static_asset_path: toy_course_dir
    children:
      - block-v1:RTR+NAV+2026+type@chapter+block@chap1
  - usage: block-v1:RTR+NAV+2026+type@chapter+block@chap1
    type: chapter
    fields:
      display_name: Chapter
    children:
      - block-v1:RTR+NAV+2026+type@sequential+block@seq1
      - block-v1:RTR+NAV+2026+type@sequential+block@seq2
      - block-v1:RTR+NAV+2026+type@sequential+block@seq3
  - usage: block-v1:RTR+NAV+2026+type@sequential+block@seq1
    type: sequential
    fields:
      display_name: Open
    children:
      - block-v1:RTR+NAV+2026+type@vertical+block@vertical_test
  - usage: block-v1:RTR+NAV+2026+type@sequential+block@seq2
    type: sequential
    fields:
      display_name: Gated
  - usage: block-v1:RTR+NAV+2026+type@sequential+block@seq3
    type: sequential
    fields:
      display_name: Hidden
      hide_from_toc: true
  - usage: block-v1:RTR+NAV+2026+type@vertical+block@vertical_test
    type: vertical
    fields:
      display_name: Unit
    children:
      - block-v1:RTR+NAV+2026+type@html+block@html1
      - block-v1:RTR+NAV+2026+type@problem+block@prob1
  - usage: block-v1:RTR+NAV+2026+type@html+block@html1
    type: html
    fields:
      display_name: Links
      data: '<a href="/jump_to_id/vertical_test">x</a><a href="/static/foo/content">y</a>'
  - usage: block-v1:RTR+NAV+2026+type@problem+block@prob1
    type: problem
    fields:
      display_name: Problem
`

const (
	problemUsage = "block-v1:RTR+NAV+2026+type@problem+block@prob1"
	htmlUsage    = "block-v1:RTR+NAV+2026+type@html+block@html1"
)

type routerEnv struct {
	router *gin.Engine
	tokens services.TokenService
	sm     repos.StudentModuleRepo
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := testutil.Logger(t)
	db := testutil.DB(t)

	reg := block.NewTypeRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		t.Fatalf("register types: %v", err)
	}
	store, err := modulestore.ParseFixture([]byte(routerFixture), reg)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	smRepo := repos.NewStudentModuleRepo(db, log)
	tagRepo := repos.NewUserCourseTagRepo(db, log)
	anonRepo := repos.NewAnonymousIDRepo(db, log)

	base := services.NewRegistry(log)
	base.Register(block.ServiceI18n, services.NewI18nService())
	base.Register(block.ServiceSettings, services.NewSettingsService(log, ""))
	base.Register(block.ServiceCache, services.NewMemoryCacheService())

	binder := binding.NewBinder(binding.Config{
		Log:               log,
		Store:             store,
		SMRepo:            smRepo,
		TagRepo:           tagRepo,
		AnonRepo:          anonRepo,
		Base:              base,
		Secret:            []byte("router-test-secret"),
		CompletionEnabled: true,
	})

	tokens := services.NewTokenService(log, "router-test-jwt")
	sink := services.NewLogTrackingSink(log)
	userOverrides := override.NewRegistryFromProviders()

	xblockHandler := handlers.NewXBlockHandler(log, store, binder, userOverrides, smRepo, sink, nil, handlers.XBlockConfig{
		MaxUploadsPerInput:  1,
		UploadMaxSizeBytes:  16,
		ViewEndpointEnabled: true,
		StaffDebugEnabled:   true,
	})
	xqueueHandler := handlers.NewXQueueHandler(log, store, binder, anonRepo)
	tocHandler := handlers.NewTOCHandler(log, store, binder, userOverrides, toc.NewBuilder(log, store, nil))
	auth := middleware.NewAuthMiddleware(log, tokens, []string{"googlebot"})

	router := NewRouter(RouterConfig{
		XBlockHandler:  xblockHandler,
		XQueueHandler:  xqueueHandler,
		TOCHandler:     tocHandler,
		AuthMiddleware: auth,
	})
	return &routerEnv{router: router, tokens: tokens, sm: smRepo}
}

func (env *routerEnv) issue(t *testing.T, viewer requestdata.Viewer) string {
	t.Helper()
	token, err := env.tokens.Issue(viewer, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func learnerViewer() requestdata.Viewer {
	return requestdata.Viewer{UserID: uuid.New(), Username: "learner", IsAuthenticated: true}
}

func handlerPath(usage, dispatch string) string {
	return fmt.Sprintf("/courses/%s/xblock/%s/handler/xmodule_handler/%s", routerCourse, usage, dispatch)
}

func (env *routerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func checkForm() string {
	return url.Values{"input_answer_1": {"42"}}.Encode()
}

func TestHandlerAuthMatrix(t *testing.T) {
	env := newRouterEnv(t)

	// Anonymous GET is allowed for transcript-style reads.
	req := httptest.NewRequest(http.MethodGet, handlerPath(problemUsage, "problem_get"), nil)
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("anonymous GET: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Anonymous POST is refused.
	req = httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check"), strings.NewReader(checkForm()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous POST: expected 401, got %d", w.Code)
	}
	if w.Body.String() != "Unauthenticated" {
		t.Fatalf("anonymous POST: expected Unauthenticated body, got %q", w.Body.String())
	}

	token := env.issue(t, learnerViewer())

	// Bearer POST succeeds without CSRF.
	req = httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check"), strings.NewReader(checkForm()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("bearer POST: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Signed query token succeeds without CSRF.
	req = httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check")+"?token="+token, strings.NewReader(checkForm()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("signed-token POST: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Session POST with matching CSRF token succeeds.
	form := url.Values{"input_answer_1": {"42"}, "csrfmiddlewaretoken": {"T"}}
	req = httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check"), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: token})
	req.AddCookie(&http.Cookie{Name: "csrftoken", Value: "T"})
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("session POST with CSRF: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Session POST with a mutated CSRF token is refused.
	form = url.Values{"input_answer_1": {"42"}, "csrfmiddlewaretoken": {"T-tampered"}}
	req = httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check"), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: token})
	req.AddCookie(&http.Cookie{Name: "csrftoken", Value: "T"})
	if w := env.do(req); w.Code != http.StatusForbidden {
		t.Fatalf("session POST with tampered CSRF: expected 403, got %d", w.Code)
	}
}

func TestHandlerNoAuthAlias(t *testing.T) {
	env := newRouterEnv(t)

	path := fmt.Sprintf("/courses/%s/xblock/%s/handler_noauth/xmodule_handler/problem_get", routerCourse, problemUsage)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(checkForm()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := env.do(req); w.Code != http.StatusOK {
		t.Fatalf("handler_noauth POST: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestHandlerUnknownTargets(t *testing.T) {
	env := newRouterEnv(t)
	token := env.issue(t, learnerViewer())

	// Unknown handler name.
	path := fmt.Sprintf("/courses/%s/xblock/%s/handler/no_such_handler", routerCourse, problemUsage)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(checkForm()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	if w := env.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("unknown handler: expected 404, got %d", w.Code)
	}

	// Malformed usage key.
	path = fmt.Sprintf("/courses/%s/xblock/not-a-key/handler/xmodule_handler/problem_get", routerCourse)
	req = httptest.NewRequest(http.MethodGet, path, nil)
	if w := env.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("invalid usage key: expected 404, got %d", w.Code)
	}

	// Valid key addressing nothing.
	path = fmt.Sprintf("/courses/%s/xblock/block-v1:RTR+NAV+2026+type@html+block@ghost/handler/xmodule_handler/problem_get", routerCourse)
	req = httptest.NewRequest(http.MethodGet, path, nil)
	if w := env.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("missing block: expected 404, got %d", w.Code)
	}
}

func TestUploadLimits(t *testing.T) {
	env := newRouterEnv(t)
	token := env.issue(t, learnerViewer())

	post := func(build func(w *multipart.Writer)) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		build(mw)
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, handlerPath(problemUsage, "problem_check"), &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return env.do(req)
	}

	// Two files for one input when the cap is one.
	w := post(func(mw *multipart.Writer) {
		f1, _ := mw.CreateFormFile("file_id", "a.txt")
		f1.Write([]byte("a"))
		f2, _ := mw.CreateFormFile("file_id", "b.txt")
		f2.Write([]byte("b"))
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("count cap: expected 413, got %d", w.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("count cap: body is not JSON: %v", err)
	}
	if payload["success"] != "Submission aborted! Maximum 1 files may be submitted at once" {
		t.Fatalf("count cap: unexpected message %q", payload["success"])
	}

	// One file over the byte cap; the message names the file.
	w = post(func(mw *multipart.Writer) {
		f, _ := mw.CreateFormFile("file_id", "big.txt")
		f.Write(bytes.Repeat([]byte("x"), 64))
	})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("size cap: expected 413, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "big.txt") {
		t.Fatalf("size cap: message does not name the file: %s", w.Body.String())
	}
}

func TestGraderCallbackAppliesScore(t *testing.T) {
	env := newRouterEnv(t)
	learner := uuid.New()

	_, err := env.sm.CreateOrUpdate(context.Background(), nil, &types.StudentModule{
		ID:         uuid.New(),
		UserID:     learner,
		UsageKey:   problemUsage,
		CourseKey:  routerCourse,
		ModuleType: "problem",
		State:      datatypes.JSON(`{"queue_key":"K"}`),
		Done:       "na",
	}, repos.SaveOptions{TouchModified: true})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	form := url.Values{
		"xqueue_header": {`{"lms_key":"K"}`},
		"xqueue_body":   {`{"score":1,"max_score":1}`},
	}
	path := fmt.Sprintf("/courses/%s/xqueue/%s/%s/score_update", routerCourse, learner, problemUsage)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("grader callback: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("grader callback: unexpected body %s", w.Body.String())
	}

	row, err := env.sm.Get(context.Background(), nil, learner, problemUsage)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if row.Grade == nil || *row.Grade != 1 || row.MaxGrade == nil || *row.MaxGrade != 1 {
		t.Fatalf("grader callback: grade not applied: %+v", row)
	}
	if !strings.Contains(string(row.State), `"queue_key":""`) {
		t.Fatalf("grader callback: queue key not cleared: %s", row.State)
	}
}

func TestGraderCallbackMismatchedKeyDiscarded(t *testing.T) {
	env := newRouterEnv(t)
	learner := uuid.New()

	if _, err := env.sm.CreateOrUpdate(context.Background(), nil, &types.StudentModule{
		ID:         uuid.New(),
		UserID:     learner,
		UsageKey:   problemUsage,
		CourseKey:  routerCourse,
		ModuleType: "problem",
		State:      datatypes.JSON(`{"queue_key":"K"}`),
		Done:       "na",
	}, repos.SaveOptions{TouchModified: true}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	form := url.Values{
		"xqueue_header": {`{"lms_key":"WRONG"}`},
		"xqueue_body":   {`{"score":1,"max_score":1}`},
	}
	path := fmt.Sprintf("/courses/%s/xqueue/%s/%s/score_update", routerCourse, learner, problemUsage)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)
	// The block discards the verdict but the grader still sees 200 so it
	// stops retrying.
	if w.Code != http.StatusOK {
		t.Fatalf("mismatched key: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unexpected queuekey") {
		t.Fatalf("mismatched key: unexpected body %s", w.Body.String())
	}

	row, err := env.sm.Get(context.Background(), nil, learner, problemUsage)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if row.Grade != nil {
		t.Fatalf("mismatched key: grade should not be applied, got %v", *row.Grade)
	}
}

func TestGraderCallbackRequiresFormFields(t *testing.T) {
	env := newRouterEnv(t)

	form := url.Values{"xqueue_body": {`{}`}}
	path := fmt.Sprintf("/courses/%s/xqueue/%s/%s/score_update", routerCourse, uuid.New(), problemUsage)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := env.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("missing header field: expected 404, got %d", w.Code)
	}

	form = url.Values{"xqueue_header": {`{"no_key":true}`}, "xqueue_body": {`{}`}}
	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := env.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("header without lms_key: expected 404, got %d", w.Code)
	}
}

func TestViewEndpointRewritesURLs(t *testing.T) {
	env := newRouterEnv(t)

	path := fmt.Sprintf("/courses/%s/xblock/%s/view/student_view", routerCourse, htmlUsage)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := env.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("view endpoint: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var payload struct {
		HTML      string `json:"html"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("view endpoint: decode body: %v", err)
	}
	if !strings.Contains(payload.HTML, "/courses/"+routerCourse+"/jump_to_id/vertical_test") {
		t.Fatalf("jump_to_id link not rewritten: %s", payload.HTML)
	}
	if !strings.Contains(payload.HTML, "/static/toy_course_dir/foo/content") {
		t.Fatalf("static link not rewritten for static_asset_path: %s", payload.HTML)
	}
	if payload.CSRFToken == "" {
		t.Fatalf("view endpoint: missing csrf token")
	}
}

func TestTOCEndpoint(t *testing.T) {
	env := newRouterEnv(t)

	path := fmt.Sprintf("/courses/%s/toc?active_chapter=chap1&active_section=seq1", routerCourse)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := env.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("toc endpoint: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	var outline toc.TOC
	if err := json.Unmarshal(w.Body.Bytes(), &outline); err != nil {
		t.Fatalf("toc endpoint: decode: %v", err)
	}
	if len(outline.Chapters) != 1 || len(outline.Chapters[0].Sections) != 2 {
		t.Fatalf("toc endpoint: unexpected shape %+v", outline)
	}
	for _, s := range outline.Chapters[0].Sections {
		if s.DisplayName == "Hidden" {
			t.Fatalf("hide_from_toc section leaked into the outline")
		}
	}
	if !outline.Chapters[0].Sections[0].Active {
		t.Fatalf("toc endpoint: first section should be active")
	}
	if outline.PreviousOfActiveSection != nil {
		t.Fatalf("toc endpoint: previous should be null at the boundary")
	}
	if outline.NextOfActiveSection == nil || outline.NextOfActiveSection.DisplayName != "Gated" {
		t.Fatalf("toc endpoint: next should be the gated section, got %+v", outline.NextOfActiveSection)
	}
}
