package block

import (
	"crypto/sha256"
	"encoding/hex"
)

// Resource is a static asset (css/js) a view contributes alongside its HTML.
type Resource struct {
	Kind     string `json:"kind"`
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
}

// Hash identifies the resource for dedup across sibling fragments.
func (r Resource) Hash() string {
	sum := sha256.Sum256([]byte(r.Kind + "\x00" + r.MimeType + "\x00" + r.Data))
	return hex.EncodeToString(sum[:])
}

// Fragment is a rendered view result. Wrappers transform Content and may
// append resources; they never remove them.
type Fragment struct {
	Content   string
	Resources []Resource
}

func NewFragment(content string) *Fragment {
	return &Fragment{Content: content}
}

func (f *Fragment) AddResource(r Resource) {
	f.Resources = append(f.Resources, r)
}

// MergeResources appends other's resources, skipping ones already present.
func (f *Fragment) MergeResources(other *Fragment) {
	seen := map[string]bool{}
	for _, r := range f.Resources {
		seen[r.Hash()] = true
	}
	for _, r := range other.Resources {
		if !seen[r.Hash()] {
			f.Resources = append(f.Resources, r)
			seen[r.Hash()] = true
		}
	}
}
