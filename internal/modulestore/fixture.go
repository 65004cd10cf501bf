package modulestore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openlearnhq/xblock-runtime/internal/block"
	"github.com/openlearnhq/xblock-runtime/internal/keys"
)

// Fixture is the YAML layout used to seed an InMemory store for previews
// and tests. Block order matters only for readability; parent links are
// derived from the children lists.
type Fixture struct {
	Course string         `yaml:"course"`
	Blocks []FixtureBlock `yaml:"blocks"`
}

type FixtureBlock struct {
	Usage    string         `yaml:"usage"`
	Type     string         `yaml:"type"`
	DefKey   string         `yaml:"def_key"`
	Fields   map[string]any `yaml:"fields"`
	Children []string       `yaml:"children"`
}

// LoadFixture reads a YAML course fixture and seeds a fresh store. Block
// types must already be registered.
func LoadFixture(path string, types *block.TypeRegistry) (*InMemory, error) {
	store := NewInMemory()
	if err := LoadFixtureInto(store, path, types); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadFixtureInto adds one fixture file's course to an existing store, so
// a deployment can serve several fixture courses at once.
func LoadFixtureInto(store *InMemory, path string, types *block.TypeRegistry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	return parseFixtureInto(store, raw, types)
}

func ParseFixture(raw []byte, types *block.TypeRegistry) (*InMemory, error) {
	store := NewInMemory()
	if err := parseFixtureInto(store, raw, types); err != nil {
		return nil, err
	}
	return store, nil
}

func parseFixtureInto(store *InMemory, raw []byte, types *block.TypeRegistry) error {
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}
	if _, err := keys.ParseCourseKey(fx.Course); err != nil {
		return fmt.Errorf("fixture course key: %w", err)
	}
	for _, fb := range fx.Blocks {
		usage, err := keys.ParseUsageKey(fb.Usage)
		if err != nil {
			return fmt.Errorf("fixture block %q: %w", fb.Usage, err)
		}
		typ, ok := types.Get(fb.Type)
		if !ok {
			return fmt.Errorf("fixture block %q: unknown block type %q", fb.Usage, fb.Type)
		}
		children := make([]keys.UsageKey, 0, len(fb.Children))
		for _, c := range fb.Children {
			ck, err := keys.ParseUsageKey(c)
			if err != nil {
				return fmt.Errorf("fixture block %q child: %w", fb.Usage, err)
			}
			children = append(children, ck)
		}
		fields := fb.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		store.AddBlock(&block.Authored{
			UsageKey: usage,
			Type:     typ,
			DefKey:   fb.DefKey,
			Children: children,
			Fields:   fields,
		})
	}
	return nil
}
