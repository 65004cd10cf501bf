// Package modulestore addresses the persistent content store. The runtime
// only ever looks blocks up by content key; authoring lives elsewhere.
package modulestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

type Store interface {
	// GetBlock returns the shared authored block; ErrContentNotFound when
	// the key addresses nothing.
	GetBlock(ctx context.Context, u keys.UsageKey) (*block.Authored, error)
	// GetCourse returns the course root block.
	GetCourse(ctx context.Context, c keys.CourseKey) (*block.Authored, error)
	// Children resolves child usage keys without loading the blocks.
	Children(ctx context.Context, u keys.UsageKey) []keys.UsageKey
}

// InMemory is the process-local store used by previews and tests. Blocks
// are shared by reference; callers must treat them as immutable.
type InMemory struct {
	mu      sync.RWMutex
	blocks  map[string]*block.Authored
	courses map[string]keys.UsageKey
}

func NewInMemory() *InMemory {
	return &InMemory{
		blocks:  map[string]*block.Authored{},
		courses: map[string]keys.UsageKey{},
	}
}

// AddBlock registers the block and wires child parent pointers as children
// arrive.
func (s *InMemory) AddBlock(a *block.Authored) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[a.UsageKey.String()] = a
	if a.Type != nil && a.Type.Name == "course" {
		s.courses[a.UsageKey.CourseKey.ForBranch().String()] = a.UsageKey
	}
	parent := a.UsageKey
	for _, childKey := range a.Children {
		if child, ok := s.blocks[childKey.String()]; ok && child.Parent == nil {
			p := parent
			child.Parent = &p
		}
	}
	if a.Parent == nil {
		for _, candidate := range s.blocks {
			for _, childKey := range candidate.Children {
				if childKey.String() == a.UsageKey.String() {
					p := candidate.UsageKey
					a.Parent = &p
				}
			}
		}
	}
}

func (s *InMemory) GetBlock(ctx context.Context, u keys.UsageKey) (*block.Authored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.blocks[u.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrContentNotFound, u)
	}
	return a, nil
}

func (s *InMemory) GetCourse(ctx context.Context, c keys.CourseKey) (*block.Authored, error) {
	s.mu.RLock()
	rootKey, ok := s.courses[c.ForBranch().String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: course %s", pkgerrors.ErrContentNotFound, c)
	}
	return s.GetBlock(ctx, rootKey)
}

func (s *InMemory) Children(ctx context.Context, u keys.UsageKey) []keys.UsageKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.blocks[u.String()]
	if !ok {
		return nil
	}
	return a.Children
}
