package requestdata

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

var requestDataKey contextKey

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// Viewer is the identity a request acts as. Masquerade keeps the actual
// identity and the impersonated learner side by side so access checks can
// pick which one to evaluate against instead of mutating a shared user
// object mid-render.
type Viewer struct {
	UserID          uuid.UUID
	Username        string
	IsAuthenticated bool
	IsStaff         bool
	// IsSystem marks the internal service identity; binding skips access
	// checks for it.
	IsSystem    bool
	CountryCode string

	// MasqueradeAs, when set, is the learner a staff viewer is previewing
	// content as.
	MasqueradeAs *uuid.UUID
}

// EffectiveUserID is the identity whose state is read during the request.
func (v Viewer) EffectiveUserID() uuid.UUID {
	if v.MasqueradeAs != nil {
		return *v.MasqueradeAs
	}
	return v.UserID
}

// IsMasqueradingAsStudent reports whether the viewer is previewing as one
// specific learner (as opposed to a generic "view as learner" toggle).
func (v Viewer) IsMasqueradingAsStudent() bool {
	return v.MasqueradeAs != nil
}

// Anonymous is the unauthenticated viewer.
func Anonymous() Viewer {
	return Viewer{}
}

type RequestData struct {
	Viewer Viewer
	// RequestToken namespaces DOM identifiers generated while rendering a
	// single HTML response.
	RequestToken string
	TokenString  string
	// SessionAuth marks cookie-derived identity; non-GET requests under it
	// must carry a matching CSRF token.
	SessionAuth bool
	// Crawler marks requests from indexing agents; student state is served
	// read-only to them.
	Crawler bool
}
