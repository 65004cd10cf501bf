package services

import (
	"encoding/json"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// settingsService exposes deployment-level block configuration. Buckets are
// keyed by the block type's settings key and loaded once at startup from
// XBLOCK_SETTINGS.
type settingsService struct {
	log     *logger.Logger
	buckets map[string]map[string]any
}

func NewSettingsService(baseLog *logger.Logger, rawJSON string) block.SettingsService {
	svc := &settingsService{
		log:     baseLog.With("service", "SettingsService"),
		buckets: map[string]map[string]any{},
	}
	if rawJSON == "" {
		return svc
	}
	if err := json.Unmarshal([]byte(rawJSON), &svc.buckets); err != nil {
		svc.log.Warn("Failed to parse XBLOCK_SETTINGS, serving empty buckets", "error", err)
		svc.buckets = map[string]map[string]any{}
	}
	return svc
}

func (s *settingsService) SettingsFor(b *block.Bound, def map[string]any) (map[string]any, error) {
	if b == nil || b.Authored == nil || b.Type() == nil {
		return nil, pkgerrors.ErrInvalidArgument
	}
	bucket, ok := s.buckets[b.Type().SettingsKey()]
	if !ok {
		if def == nil {
			return map[string]any{}, nil
		}
		return def, nil
	}
	return bucket, nil
}
