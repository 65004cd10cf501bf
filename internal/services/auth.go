package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/requestdata"
)

// TokenClaims is the bearer/signed-token payload. Masquerade carries the
// learner a staff token is previewing as; it is only honored for staff.
type TokenClaims struct {
	jwt.RegisteredClaims
	Username   string `json:"username,omitempty"`
	IsStaff    bool   `json:"is_staff,omitempty"`
	Masquerade string `json:"masquerade,omitempty"`
}

// TokenService mints and verifies the signed tokens accepted by the
// dispatcher's auth matrix. Cookie sessions reuse the same codec; the
// middleware decides whether CSRF applies based on where the token came
// from, not on its contents.
type TokenService interface {
	Issue(viewer requestdata.Viewer, ttl time.Duration) (string, error)
	Viewer(tokenString string) (requestdata.Viewer, error)
}

type tokenService struct {
	log    *logger.Logger
	secret []byte
}

func NewTokenService(baseLog *logger.Logger, secret string) TokenService {
	return &tokenService{
		log:    baseLog.With("service", "TokenService"),
		secret: []byte(secret),
	}
}

func (ts *tokenService) Issue(viewer requestdata.Viewer, ttl time.Duration) (string, error) {
	if !viewer.IsAuthenticated || viewer.UserID == uuid.Nil {
		return "", fmt.Errorf("cannot issue a token for an anonymous viewer")
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewer.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: viewer.Username,
		IsStaff:  viewer.IsStaff,
	}
	if viewer.MasqueradeAs != nil {
		claims.Masquerade = viewer.MasqueradeAs.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (ts *tokenService) Viewer(tokenString string) (requestdata.Viewer, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return requestdata.Anonymous(), fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return requestdata.Anonymous(), fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return requestdata.Anonymous(), fmt.Errorf("token subject is not a user id: %w", err)
	}
	viewer := requestdata.Viewer{
		UserID:          userID,
		Username:        claims.Username,
		IsAuthenticated: true,
		IsStaff:         claims.IsStaff,
	}
	if claims.IsStaff && claims.Masquerade != "" {
		target, err := uuid.Parse(claims.Masquerade)
		if err != nil {
			return requestdata.Anonymous(), fmt.Errorf("token masquerade is not a user id: %w", err)
		}
		viewer.MasqueradeAs = &target
	}
	return viewer, nil
}
