package services

import (
	"fmt"
	"regexp"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
)

var (
	staticURLPattern   = regexp.MustCompile(`(["'=\s])/static/([^"'\s>]*)`)
	courseURLPattern   = regexp.MustCompile(`(["'=\s])/course/([^"'\s>]*)`)
	jumpToIDURLPattern = regexp.MustCompile(`(["'=\s])/jump_to_id/([^"'\s>]*)`)
)

// replaceURLsService rewrites authored relative links into course-scoped
// absolute links. With a static_asset_path the /static root is redirected
// into that directory instead of the per-course asset store.
type replaceURLsService struct {
	course          keys.CourseKey
	staticAssetPath string
}

func NewReplaceURLsService(course keys.CourseKey, staticAssetPath string) block.ReplaceURLsService {
	return &replaceURLsService{course: course.ForBranch(), staticAssetPath: staticAssetPath}
}

func (s *replaceURLsService) ReplaceURLs(content string) string {
	courseID := s.course.String()
	if s.staticAssetPath != "" {
		content = staticURLPattern.ReplaceAllString(content,
			fmt.Sprintf("${1}/static/%s/${2}", s.staticAssetPath))
	} else {
		content = staticURLPattern.ReplaceAllString(content,
			fmt.Sprintf("${1}/assets/%s/${2}", courseID))
	}
	content = courseURLPattern.ReplaceAllString(content,
		fmt.Sprintf("${1}/courses/%s/${2}", courseID))
	content = jumpToIDURLPattern.ReplaceAllString(content,
		fmt.Sprintf("${1}/courses/%s/jump_to_id/${2}", courseID))
	return content
}
