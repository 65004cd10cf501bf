package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
	"github.com/openlearnhq/xblock-runtime/internal/services"
)

const (
	sessionCookie   = "sessionid"
	csrfCookie      = "csrftoken"
	csrfHeader      = "X-CSRFToken"
	csrfFormField   = "csrfmiddlewaretoken"
	unauthenticated = "Unauthenticated"
)

// AuthMiddleware resolves the request identity from bearer tokens, signed
// query tokens, or the session cookie, and enforces the write-path rules:
// anonymous non-GET is 401, cookie-authenticated non-GET needs CSRF.
type AuthMiddleware struct {
	log           *logger.Logger
	tokens        services.TokenService
	crawlerAgents []string
}

func NewAuthMiddleware(log *logger.Logger, tokens services.TokenService, crawlerAgents []string) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, tokens: tokens, crawlerAgents: crawlerAgents}
}

// Identify populates request data for every request. A token that is
// present but invalid aborts with 401; absence of any credential leaves the
// viewer anonymous, which is fine for reads.
func (am *AuthMiddleware) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &requestdata.RequestData{
			Viewer:       requestdata.Anonymous(),
			RequestToken: uuid.NewString(),
			Crawler:      am.isCrawler(c.GetHeader("User-Agent")),
		}

		tokenString, fromSession := extractToken(c)
		if tokenString != "" {
			viewer, err := am.tokens.Viewer(tokenString)
			if err != nil {
				am.log.Warn("Rejected credential", "error", err)
				c.String(http.StatusUnauthorized, unauthenticated)
				c.Abort()
				return
			}
			rd.Viewer = viewer
			rd.TokenString = tokenString
			rd.SessionAuth = fromSession
		}

		ctx := requestdata.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireWriteAuth gates the authenticated dispatch endpoint: anonymous GET
// passes through for transcript-style reads, anonymous non-GET is refused,
// and cookie sessions must prove CSRF on writes. Bearer and signed tokens
// skip CSRF because the token itself is the proof.
func (am *AuthMiddleware) RequireWriteAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		rd := requestdata.GetRequestData(c.Request.Context())
		if rd == nil || !rd.Viewer.IsAuthenticated {
			c.String(http.StatusUnauthorized, unauthenticated)
			c.Abort()
			return
		}
		if rd.SessionAuth && !csrfValid(c) {
			c.String(http.StatusForbidden, "CSRF verification failed")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ForceAnonymous serves the handler_noauth alias and the grader ingress:
// whatever credential came along, the request proceeds as anonymous with no
// CSRF check.
func (am *AuthMiddleware) ForceAnonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &requestdata.RequestData{
			Viewer:       requestdata.Anonymous(),
			RequestToken: uuid.NewString(),
			Crawler:      am.isCrawler(c.GetHeader("User-Agent")),
		}
		ctx := requestdata.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (am *AuthMiddleware) isCrawler(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	lowered := strings.ToLower(userAgent)
	for _, agent := range am.crawlerAgents {
		if agent != "" && strings.Contains(lowered, strings.ToLower(agent)) {
			return true
		}
	}
	return false
}

// extractToken returns the credential and whether it came from the session
// cookie. Precedence: bearer header, signed query token, cookie.
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:], false
	}
	if qToken := c.Query("token"); qToken != "" {
		return qToken, false
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// csrfValid implements double-submit: the csrftoken cookie must match
// either the X-CSRFToken header or the csrfmiddlewaretoken form field.
func csrfValid(c *gin.Context) bool {
	cookie, err := c.Cookie(csrfCookie)
	if err != nil || cookie == "" {
		return false
	}
	if header := c.GetHeader(csrfHeader); header != "" {
		return header == cookie
	}
	if field := c.PostForm(csrfFormField); field != "" {
		return field == cookie
	}
	return false
}
