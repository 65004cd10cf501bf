// Package partitions resolves which group of each course partition a user
// belongs to.
package partitions

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/openlearnhq/xblock-runtime/internal/pkg/errors"
)

// SupportedVersion is the newest partition JSON version this code writes.
// Newer versions decode fine: version bumps are backward-compatible and
// unknown fields are ignored.
const SupportedVersion = 3

type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Partition struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Groups      []Group        `json:"groups"`
	Scheme      string         `json:"scheme"`
	Parameters  map[string]any `json:"parameters"`
	Version     int            `json:"version"`
	Active      bool           `json:"active"`
}

// UnmarshalJSON enforces the read contract: a missing scheme is an error,
// missing parameters default to empty, and unknown fields (including those
// from future versions) are dropped.
func (p *Partition) UnmarshalJSON(data []byte) error {
	type alias Partition
	var a alias
	a.Active = true
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Scheme == "" {
		return fmt.Errorf("%w: partition %d has no scheme", pkgerrors.ErrInvalidArgument, a.ID)
	}
	if a.Parameters == nil {
		a.Parameters = map[string]any{}
	}
	*p = Partition(a)
	return nil
}

// GroupByID returns the named group; ErrNoSuchGroup otherwise.
func (p *Partition) GroupByID(id int) (Group, error) {
	for _, g := range p.Groups {
		if g.ID == id {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("%w: group %d in partition %d", pkgerrors.ErrNoSuchGroup, id, p.ID)
}
