package fielddata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/data/repos"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
	"github.com/openlearnhq/xblock-runtime/internal/types"
)

// DefaultPrefetchDepth bounds the breadth-first preload under the starting
// block.
const DefaultPrefetchDepth = 2

// ChildLookup resolves a block's children; the content store supplies it.
type ChildLookup func(ctx context.Context, u keys.UsageKey) []keys.UsageKey

// Cache is the per-request student-state snapshot for one (course, user).
// It preloads every row needed to render a subtree in one query pass, then
// serves reads and buffers writes for that request.
type Cache struct {
	log  *logger.Logger
	repo repos.StudentModuleRepo

	courseKey keys.CourseKey
	userID    uuid.UUID

	// readOnly is set for crawler traffic; writes become no-ops persisted
	// nowhere but still visible within the request.
	readOnly bool

	saveOpts repos.SaveOptions

	rows  map[string]*types.StudentModule
	state map[string]map[string]any
	// created tracks usage keys whose row does not exist yet; the first
	// flush creates it.
	missing map[string]bool
}

type CacheOptions struct {
	ReadOnly bool
	// WorkerContext suppresses the modified timestamp on saves.
	WorkerContext bool
	Depth         int
}

// NewCache builds the snapshot, walking breadth-first from start through
// children to the configured depth and loading all rows in one query.
func NewCache(
	ctx context.Context,
	repo repos.StudentModuleRepo,
	baseLog *logger.Logger,
	courseKey keys.CourseKey,
	userID uuid.UUID,
	start *block.Authored,
	children ChildLookup,
	opts CacheOptions,
) (*Cache, error) {
	c := &Cache{
		log:       baseLog.With("component", "FieldDataCache"),
		repo:      repo,
		courseKey: courseKey.ForBranch(),
		userID:    userID,
		readOnly:  opts.ReadOnly,
		saveOpts:  repos.SaveOptions{TouchModified: !opts.WorkerContext},
		rows:      map[string]*types.StudentModule{},
		state:     map[string]map[string]any{},
		missing:   map[string]bool{},
	}

	depth := opts.Depth
	if depth <= 0 {
		depth = DefaultPrefetchDepth
	}

	var usageKeys []string
	if start != nil {
		frontier := []keys.UsageKey{start.UsageKey}
		seen := map[string]bool{start.UsageKey.String(): true}
		usageKeys = append(usageKeys, start.UsageKey.String())
		for d := 0; d < depth && len(frontier) > 0; d++ {
			var next []keys.UsageKey
			for _, u := range frontier {
				if children == nil {
					continue
				}
				for _, child := range children(ctx, u) {
					s := child.String()
					if seen[s] {
						continue
					}
					seen[s] = true
					usageKeys = append(usageKeys, s)
					next = append(next, child)
				}
			}
			frontier = next
		}
	}

	if userID != uuid.Nil && len(usageKeys) > 0 {
		loaded, err := repo.GetForUsageKeys(ctx, nil, userID, usageKeys)
		if err != nil {
			return nil, fmt.Errorf("preload student state: %w", err)
		}
		for _, row := range loaded {
			c.rows[row.UsageKey] = row
		}
	}
	for _, uk := range usageKeys {
		if _, ok := c.rows[uk]; !ok {
			c.missing[uk] = true
		}
	}
	return c, nil
}

func (c *Cache) UserID() uuid.UUID { return c.userID }

func (c *Cache) CourseKey() keys.CourseKey { return c.courseKey }

func (c *Cache) ReadOnly() bool { return c.readOnly }

// SaveOptions exposes the modified-suppression decision to collaborators
// that persist outside the cache (grade publishing).
func (c *Cache) SaveOptions() repos.SaveOptions { return c.saveOpts }

func (c *Cache) decoded(usageKey string) map[string]any {
	if st, ok := c.state[usageKey]; ok {
		return st
	}
	st := map[string]any{}
	if row, ok := c.rows[usageKey]; ok && len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &st); err != nil {
			c.log.Warn("undecodable student state, starting fresh", "usage_key", usageKey, "error", err)
			st = map[string]any{}
		}
	}
	c.state[usageKey] = st
	return st
}

// GetField reads one user-state field; ErrFieldNotFound when unset.
func (c *Cache) GetField(ctx context.Context, u keys.UsageKey, name string) (any, error) {
	uk := u.String()
	if _, known := c.rows[uk]; !known && !c.missing[uk] && c.userID != uuid.Nil {
		// Outside the prefetched subtree: fall back to a point read.
		row, err := c.repo.Get(ctx, nil, c.userID, uk)
		switch {
		case err == nil:
			c.rows[uk] = row
		case err == pkgerrors.ErrNotFound:
			c.missing[uk] = true
		default:
			return nil, err
		}
	}
	st := c.decoded(uk)
	v, ok := st[name]
	if !ok {
		return nil, pkgerrors.ErrFieldNotFound
	}
	return v, nil
}

func (c *Cache) SetField(u keys.UsageKey, name string, value any) {
	st := c.decoded(u.String())
	st[name] = value
}

func (c *Cache) DeleteField(u keys.UsageKey, name string) {
	st := c.decoded(u.String())
	delete(st, name)
}

func (c *Cache) HasField(ctx context.Context, u keys.UsageKey, name string) (bool, error) {
	_, err := c.GetField(ctx, u, name)
	if err == pkgerrors.ErrFieldNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Flush persists the block's buffered state, creating the student-state row
// on first write. Read-only caches and anonymous users skip persistence.
func (c *Cache) Flush(ctx context.Context, u keys.UsageKey, moduleType string) error {
	if c.readOnly || c.userID == uuid.Nil {
		return nil
	}
	uk := u.String()
	st, ok := c.state[uk]
	if !ok {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode student state: %w", err)
	}
	row := &types.StudentModule{
		UserID:     c.userID,
		UsageKey:   uk,
		CourseKey:  c.courseKey.String(),
		ModuleType: moduleType,
		State:      datatypes.JSON(raw),
	}
	if existing, okRow := c.rows[uk]; okRow {
		row.ID = existing.ID
		row.Grade = existing.Grade
		row.MaxGrade = existing.MaxGrade
		row.Done = existing.Done
	}
	saved, err := c.repo.CreateOrUpdate(ctx, nil, row, c.saveOpts)
	if err != nil {
		return err
	}
	c.rows[uk] = saved
	delete(c.missing, uk)
	return nil
}
