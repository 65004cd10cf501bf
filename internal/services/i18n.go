package services

import (
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

// i18nService is the identity translator. Catalog-backed translation is a
// deployment concern; blocks only need the call surface.
type i18nService struct{}

func NewI18nService() block.I18nService { return &i18nService{} }

func (s *i18nService) Translate(msg string) string { return msg }

func (s *i18nService) FormatDate(t time.Time) string {
	return t.UTC().Format("Jan 02, 2006 at 15:04 UTC")
}
