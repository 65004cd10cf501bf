// Package keys implements the opaque content-key formats used across the
// runtime: course keys, block usage keys, and aside keys, plus the escape
// codec that makes keys safe to embed in URL path segments.
package keys

import (
	"fmt"
	"strings"

	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

const (
	courseKeyPrefix = "course-v1:"
	usageKeyPrefix  = "block-v1:"
	asideKeyPrefix  = "aside-v2:"
	asideSeparator  = "::"
)

// CourseKey identifies one run of a course. Branch and Version are optional
// markers carried by draft/published addressing; runtime state is always
// keyed by the branch-normalized form.
type CourseKey struct {
	Org     string
	Course  string
	Run     string
	Branch  string
	Version string
}

func ParseCourseKey(s string) (CourseKey, error) {
	if !strings.HasPrefix(s, courseKeyPrefix) {
		return CourseKey{}, fmt.Errorf("%w: course key %q", pkgerrors.ErrInvalidKey, s)
	}
	parts := strings.Split(strings.TrimPrefix(s, courseKeyPrefix), "+")
	if len(parts) < 3 {
		return CourseKey{}, fmt.Errorf("%w: course key %q", pkgerrors.ErrInvalidKey, s)
	}
	ck := CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}
	if ck.Org == "" || ck.Course == "" || ck.Run == "" {
		return CourseKey{}, fmt.Errorf("%w: course key %q", pkgerrors.ErrInvalidKey, s)
	}
	for _, p := range parts[3:] {
		switch {
		case strings.HasPrefix(p, "branch@"):
			ck.Branch = strings.TrimPrefix(p, "branch@")
		case strings.HasPrefix(p, "version@"):
			ck.Version = strings.TrimPrefix(p, "version@")
		default:
			return CourseKey{}, fmt.Errorf("%w: course key %q has unknown marker %q", pkgerrors.ErrInvalidKey, s, p)
		}
	}
	return ck, nil
}

func (k CourseKey) String() string {
	var b strings.Builder
	b.WriteString(courseKeyPrefix)
	b.WriteString(k.Org)
	b.WriteString("+")
	b.WriteString(k.Course)
	b.WriteString("+")
	b.WriteString(k.Run)
	if k.Branch != "" {
		b.WriteString("+branch@")
		b.WriteString(k.Branch)
	}
	if k.Version != "" {
		b.WriteString("+version@")
		b.WriteString(k.Version)
	}
	return b.String()
}

func (k CourseKey) IsZero() bool {
	return k.Org == "" && k.Course == "" && k.Run == ""
}

// ForBranch strips the version marker so that per-user state stays stable
// across concurrent author edits.
func (k CourseKey) ForBranch() CourseKey {
	k.Version = ""
	return k
}

// UsageKey identifies a block within one course run.
type UsageKey struct {
	CourseKey CourseKey
	BlockType string
	BlockID   string
}

func ParseUsageKey(s string) (UsageKey, error) {
	if !strings.HasPrefix(s, usageKeyPrefix) {
		return UsageKey{}, fmt.Errorf("%w: usage key %q", pkgerrors.ErrInvalidKey, s)
	}
	parts := strings.Split(strings.TrimPrefix(s, usageKeyPrefix), "+")
	if len(parts) < 5 {
		return UsageKey{}, fmt.Errorf("%w: usage key %q", pkgerrors.ErrInvalidKey, s)
	}
	uk := UsageKey{
		CourseKey: CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]},
	}
	if uk.CourseKey.Org == "" || uk.CourseKey.Course == "" || uk.CourseKey.Run == "" {
		return UsageKey{}, fmt.Errorf("%w: usage key %q", pkgerrors.ErrInvalidKey, s)
	}
	for _, p := range parts[3:] {
		switch {
		case strings.HasPrefix(p, "type@"):
			uk.BlockType = strings.TrimPrefix(p, "type@")
		case strings.HasPrefix(p, "block@"):
			uk.BlockID = strings.TrimPrefix(p, "block@")
		case strings.HasPrefix(p, "branch@"):
			uk.CourseKey.Branch = strings.TrimPrefix(p, "branch@")
		case strings.HasPrefix(p, "version@"):
			uk.CourseKey.Version = strings.TrimPrefix(p, "version@")
		default:
			return UsageKey{}, fmt.Errorf("%w: usage key %q has unknown marker %q", pkgerrors.ErrInvalidKey, s, p)
		}
	}
	if uk.BlockType == "" || uk.BlockID == "" {
		return UsageKey{}, fmt.Errorf("%w: usage key %q", pkgerrors.ErrInvalidKey, s)
	}
	return uk, nil
}

func (k UsageKey) String() string {
	var b strings.Builder
	b.WriteString(usageKeyPrefix)
	b.WriteString(k.CourseKey.Org)
	b.WriteString("+")
	b.WriteString(k.CourseKey.Course)
	b.WriteString("+")
	b.WriteString(k.CourseKey.Run)
	if k.CourseKey.Branch != "" {
		b.WriteString("+branch@")
		b.WriteString(k.CourseKey.Branch)
	}
	if k.CourseKey.Version != "" {
		b.WriteString("+version@")
		b.WriteString(k.CourseKey.Version)
	}
	b.WriteString("+type@")
	b.WriteString(k.BlockType)
	b.WriteString("+block@")
	b.WriteString(k.BlockID)
	return b.String()
}

func (k UsageKey) IsZero() bool {
	return k.CourseKey.IsZero() && k.BlockType == "" && k.BlockID == ""
}

// MapIntoCourse re-homes the usage key under course, preserving type and id.
func (k UsageKey) MapIntoCourse(course CourseKey) UsageKey {
	k.CourseKey = course
	return k
}

// AsideKey addresses a decorator block wrapping another block's rendering.
type AsideKey struct {
	UsageKey  UsageKey
	AsideType string
}

func ParseAsideKey(s string) (AsideKey, error) {
	if !strings.HasPrefix(s, asideKeyPrefix) {
		return AsideKey{}, fmt.Errorf("%w: aside key %q", pkgerrors.ErrInvalidKey, s)
	}
	rest := strings.TrimPrefix(s, asideKeyPrefix)
	idx := strings.LastIndex(rest, asideSeparator)
	if idx < 0 {
		return AsideKey{}, fmt.Errorf("%w: aside key %q", pkgerrors.ErrInvalidKey, s)
	}
	inner, asideType := rest[:idx], rest[idx+len(asideSeparator):]
	if asideType == "" {
		return AsideKey{}, fmt.Errorf("%w: aside key %q", pkgerrors.ErrInvalidKey, s)
	}
	uk, err := ParseUsageKey(inner)
	if err != nil {
		return AsideKey{}, err
	}
	return AsideKey{UsageKey: uk, AsideType: asideType}, nil
}

func (k AsideKey) String() string {
	return asideKeyPrefix + k.UsageKey.String() + asideSeparator + k.AsideType
}

// IsAsideKey reports whether s addresses an aside rather than a block.
func IsAsideKey(s string) bool {
	return strings.HasPrefix(s, asideKeyPrefix)
}

// Escape makes a key string safe for a URL path segment. Slashes become
// ";_" and the escape character itself doubles, so the mapping inverts
// exactly.
func Escape(s string) string {
	s = strings.ReplaceAll(s, ";", ";;")
	return strings.ReplaceAll(s, "/", ";_")
}

// Unescape inverts Escape.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ';' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case ';':
			b.WriteByte(';')
			i++
		case '_':
			b.WriteByte('/')
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
