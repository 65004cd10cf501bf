package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

type Decision int

const (
	Allow Decision = iota
	DenySilent
	DenyWithMessage
)

// AccessResult is an access check outcome; Denied carries the learner-facing
// message for DenyWithMessage.
type AccessResult struct {
	Decision Decision
	Denied   *pkgerrors.AccessDeniedError
}

// AccessChecker decides whether a viewer may see a block. Checks read
// through the field-data stack so per-user overrides and date extensions
// apply.
type AccessChecker interface {
	Check(ctx context.Context, viewer requestdata.Viewer, a *block.Authored, fd block.FieldData) AccessResult
}

// DefaultAccessChecker enforces staff-only visibility and release dates.
// Staff masquerading as a specific learner is checked as that learner.
type DefaultAccessChecker struct {
	Now func() time.Time
}

func NewDefaultAccessChecker() *DefaultAccessChecker {
	return &DefaultAccessChecker{Now: time.Now}
}

func (c *DefaultAccessChecker) Check(ctx context.Context, viewer requestdata.Viewer, a *block.Authored, fd block.FieldData) AccessResult {
	actingAsStaff := viewer.IsStaff && !viewer.IsMasqueradingAsStudent()
	if actingAsStaff {
		return AccessResult{Decision: Allow}
	}

	if staffOnly, _ := fieldBool(ctx, fd, a, "visible_to_staff_only"); staffOnly {
		return AccessResult{Decision: DenySilent}
	}

	if start, ok := fieldTime(ctx, fd, a, "start"); ok && c.Now().Before(start) {
		return AccessResult{
			Decision: DenyWithMessage,
			Denied: &pkgerrors.AccessDeniedError{
				Code:        "not_yet_started",
				UserMessage: fmt.Sprintf("This content is not available until %s.", start.UTC().Format("Jan 02, 2006")),
			},
		}
	}
	return AccessResult{Decision: Allow}
}

func fieldValue(ctx context.Context, fd block.FieldData, a *block.Authored, name string) (any, error) {
	v, err := fd.Get(ctx, a, name)
	if errors.Is(err, pkgerrors.ErrFieldNotFound) {
		return fd.Default(a, name)
	}
	return v, err
}

func fieldBool(ctx context.Context, fd block.FieldData, a *block.Authored, name string) (bool, error) {
	v, err := fieldValue(ctx, fd, a, name)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func fieldTime(ctx context.Context, fd block.FieldData, a *block.Authored, name string) (time.Time, bool) {
	v, err := fieldValue(ctx, fd, a, name)
	if err != nil || v == nil {
		return time.Time{}, false
	}
	return block.ParseDate(v)
}
