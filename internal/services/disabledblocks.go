package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// DisabledBlockSnapshot is one immutable read of the disabled-block
// configuration. Readers during a request hold one snapshot; a concurrent
// config change lands in the next request.
type DisabledBlockSnapshot struct {
	Version     int64
	Enabled     bool
	RenderTypes map[string]bool
	CreateTypes map[string]bool
}

// RenderDisabled reports whether rendering blockType is switched off.
func (s *DisabledBlockSnapshot) RenderDisabled(blockType string) bool {
	return s.Enabled && s.RenderTypes[blockType]
}

func (s *DisabledBlockSnapshot) CreateDisabled(blockType string) bool {
	return s.Enabled && s.CreateTypes[blockType]
}

// DisabledBlockService serves versioned snapshots of the config table with
// a short TTL; concurrent cold reads collapse into one query.
type DisabledBlockService struct {
	log  *logger.Logger
	repo repos.DisabledBlockConfigRepo
	ttl  time.Duration

	mu      sync.RWMutex
	current *DisabledBlockSnapshot
	loaded  time.Time

	group singleflight.Group
}

func NewDisabledBlockService(baseLog *logger.Logger, repo repos.DisabledBlockConfigRepo, ttl time.Duration) *DisabledBlockService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DisabledBlockService{
		log:  baseLog.With("service", "DisabledBlockService"),
		repo: repo,
		ttl:  ttl,
	}
}

// Snapshot returns the current configuration, refreshing from the store
// when the cached copy has expired.
func (s *DisabledBlockService) Snapshot(ctx context.Context) (*DisabledBlockSnapshot, error) {
	s.mu.RLock()
	snap, loaded := s.current, s.loaded
	s.mu.RUnlock()
	if snap != nil && time.Since(loaded) < s.ttl {
		return snap, nil
	}

	v, err, _ := s.group.Do("snapshot", func() (any, error) {
		row, err := s.repo.Latest(ctx, nil)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrNotFound) {
				fresh := &DisabledBlockSnapshot{}
				s.store(fresh)
				return fresh, nil
			}
			return nil, err
		}
		fresh, err := snapshotFromRow(row)
		if err != nil {
			return nil, err
		}
		s.store(fresh)
		return fresh, nil
	})
	if err != nil {
		// Serve the stale copy over failing the request.
		if snap != nil {
			s.log.Warn("Serving stale disabled-block config", "error", err)
			return snap, nil
		}
		return nil, err
	}
	return v.(*DisabledBlockSnapshot), nil
}

// Update appends a new configuration row; the next snapshot read after the
// TTL picks it up.
func (s *DisabledBlockService) Update(ctx context.Context, enabled bool, renderTypes, createTypes []string, changedBy string) error {
	renderJSON, err := json.Marshal(renderTypes)
	if err != nil {
		return err
	}
	createJSON, err := json.Marshal(createTypes)
	if err != nil {
		return err
	}
	row, err := s.repo.Insert(ctx, nil, &types.DisabledBlockConfig{
		Enabled:     enabled,
		RenderTypes: renderJSON,
		CreateTypes: createJSON,
		ChangedBy:   changedBy,
	})
	if err != nil {
		return err
	}
	fresh, err := snapshotFromRow(row)
	if err != nil {
		return err
	}
	s.store(fresh)
	return nil
}

func (s *DisabledBlockService) store(snap *DisabledBlockSnapshot) {
	s.mu.Lock()
	s.current = snap
	s.loaded = time.Now()
	s.mu.Unlock()
}

func snapshotFromRow(row *types.DisabledBlockConfig) (*DisabledBlockSnapshot, error) {
	snap := &DisabledBlockSnapshot{
		Version:     row.ID,
		Enabled:     row.Enabled,
		RenderTypes: map[string]bool{},
		CreateTypes: map[string]bool{},
	}
	var names []string
	if len(row.RenderTypes) > 0 {
		if err := json.Unmarshal(row.RenderTypes, &names); err != nil {
			return nil, err
		}
		for _, n := range names {
			snap.RenderTypes[n] = true
		}
	}
	if len(row.CreateTypes) > 0 {
		names = names[:0]
		if err := json.Unmarshal(row.CreateTypes, &names); err != nil {
			return nil, err
		}
		for _, n := range names {
			snap.CreateTypes[n] = true
		}
	}
	return snap, nil
}
