package services

import (
	"context"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

// ctaService aggregates call-to-action providers. Plugins register
// providers at startup; with none registered every category is empty.
type ctaService struct {
	providers []block.CallToActionService
}

func NewCallToActionService(providers ...block.CallToActionService) block.CallToActionService {
	return &ctaService{providers: providers}
}

func (s *ctaService) GetCTAs(ctx context.Context, b *block.Bound, category string) []block.CTA {
	var out []block.CTA
	for _, p := range s.providers {
		out = append(out, p.GetCTAs(ctx, b, category)...)
	}
	return out
}
