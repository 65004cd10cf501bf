package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

// problemType is the graded exercise block. Checks may be scored locally or
// dispatched to the external grader; grader verdicts come back through the
// score_update ajax dispatch carrying the queuekey the block stored at
// submit time.
func problemType() *block.Type {
	return &block.Type{
		Name: "problem",
		Fields: map[string]block.FieldDef{
			"display_name":    displayNameField(),
			"data":            {Name: "data", Scope: block.ScopeContent, Default: ""},
			"weight":          {Name: "weight", Scope: block.ScopeSettings, Default: nil},
			"max_attempts":    {Name: "max_attempts", Scope: block.ScopeSettings, Default: 0},
			"queue_name":      {Name: "queue_name", Scope: block.ScopeSettings, Default: ""},
			"attempts":        {Name: "attempts", Scope: block.ScopeUserState, Default: 0},
			"student_answers": {Name: "student_answers", Scope: block.ScopeUserState, Default: map[string]any{}},
			"queue_key":       {Name: "queue_key", Scope: block.ScopeUserState, Default: ""},
			"done":            {Name: "done", Scope: block.ScopeUserState, Default: false},
		},
		Views: map[string]block.ViewFunc{
			"student_view": problemStudentView,
		},
		Handlers: map[string]block.Handler{
			"xmodule_handler": {Fn: problemHandler},
		},
		Ajax: problemAjax,
	}
}

func problemStudentView(ctx context.Context, b *block.Bound, viewCtx map[string]any) (*block.Fragment, error) {
	content := b.GetString(ctx, "data")
	attempts := intField(ctx, b, "attempts")
	frag := block.NewFragment(fmt.Sprintf(
		`<div class="problem" data-attempts="%d">%s</div>`, attempts, content))
	frag.AddResource(block.Resource{Kind: "javascript", MimeType: "application/javascript", Data: problemJS})
	return frag, nil
}

const problemJS = `(function(){window.Problem&&window.Problem.init&&window.Problem.init();})();`

// problemHandler adapts the HTTP handler surface onto the ajax dispatch
// table; the suffix names the dispatch.
func problemHandler(ctx context.Context, b *block.Bound, r *http.Request, suffix string) (*block.HandlerResponse, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &pkgerrors.ProcessingError{Msg: "could not parse submission"}
	}
	dispatch := strings.Trim(suffix, "/")
	out, err := b.HandleAjax(ctx, dispatch, r.PostForm)
	if err != nil {
		return nil, err
	}
	return block.JSONResponse([]byte(out)), nil
}

func problemAjax(ctx context.Context, b *block.Bound, dispatch string, data url.Values) (string, error) {
	switch dispatch {
	case "problem_check":
		return problemCheck(ctx, b, data)
	case "problem_get":
		return problemGet(ctx, b)
	case "score_update":
		return problemScoreUpdate(ctx, b, data)
	default:
		return "", pkgerrors.ErrHandlerMissing
	}
}

func problemCheck(ctx context.Context, b *block.Bound, data url.Values) (string, error) {
	max := intField(ctx, b, "max_attempts")
	attempts := intField(ctx, b, "attempts")
	if max > 0 && attempts >= max {
		return "", &pkgerrors.ProcessingError{Msg: "Problem must be reset before it can be submitted again."}
	}
	answers := map[string]any{}
	for k := range data {
		if strings.HasPrefix(k, "input_") {
			answers[strings.TrimPrefix(k, "input_")] = data.Get(k)
		}
	}
	if err := b.SetField(ctx, "student_answers", answers); err != nil {
		return "", err
	}
	if err := b.SetField(ctx, "attempts", attempts+1); err != nil {
		return "", err
	}

	queue := b.GetString(ctx, "queue_name")
	status := "submitted"
	if queue != "" {
		lmsKey := uuid.NewString()
		if err := b.SetField(ctx, "queue_key", lmsKey); err != nil {
			return "", err
		}
		if svc, err := b.Runtime.Service(block.ServiceXQueue); err == nil {
			xq := svc.(block.XQueueService)
			if err := xq.Submit(ctx, queue, lmsKey, map[string]any{
				"student_response": answers,
				"anonymous_id":     b.AnonymousID,
			}); err != nil {
				return "", &pkgerrors.ProcessingError{Msg: "Unable to reach the grading service. Please try again later."}
			}
		}
		status = "queued"
	}
	if err := b.Save(ctx); err != nil {
		return "", err
	}
	return marshalAjax(map[string]any{"success": status, "attempts": attempts + 1})
}

func problemGet(ctx context.Context, b *block.Bound) (string, error) {
	answers, err := b.GetField(ctx, "student_answers")
	if err != nil {
		return "", err
	}
	return marshalAjax(map[string]any{
		"html":     b.GetString(ctx, "data"),
		"answers":  answers,
		"attempts": intField(ctx, b, "attempts"),
		"done":     b.GetBool(ctx, "done"),
	})
}

// problemScoreUpdate applies an external grader verdict. Stale or forged
// callbacks carry a queuekey that no longer matches the stored one and are
// dropped without error; the grader sees success and stops retrying.
func problemScoreUpdate(ctx context.Context, b *block.Bound, data url.Values) (string, error) {
	stored := b.GetString(ctx, "queue_key")
	if stored == "" || stored != data.Get("queuekey") {
		return marshalAjax(map[string]any{"success": false, "message": "unexpected queuekey"})
	}
	var verdict struct {
		Score    float64 `json:"score"`
		MaxScore float64 `json:"max_score"`
		Msg      string  `json:"msg"`
	}
	if err := json.Unmarshal([]byte(data.Get("xqueue_body")), &verdict); err != nil {
		return marshalAjax(map[string]any{"success": false, "message": "invalid grader response"})
	}
	if svc, err := b.Runtime.Service(block.ServicePublish); err == nil {
		pub := svc.(block.PublishService)
		if err := pub.Publish(ctx, b, "grade", map[string]any{
			"value":     verdict.Score,
			"max_value": verdict.MaxScore,
		}); err != nil {
			return "", err
		}
	}
	if err := b.SetField(ctx, "queue_key", ""); err != nil {
		return "", err
	}
	if err := b.SetField(ctx, "done", true); err != nil {
		return "", err
	}
	if err := b.Save(ctx); err != nil {
		return "", err
	}
	return marshalAjax(map[string]any{"success": true})
}

func intField(ctx context.Context, b *block.Bound, name string) int {
	v, err := b.GetField(ctx, name)
	if err != nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func marshalAjax(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
