package services

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openlearnhq/xblock-runtime/internal/block"
)

// fsService confines block file access to a root directory. Path escapes
// via .. are rejected before touching the filesystem.
type fsService struct {
	root string
}

func NewFSService(root string) block.FSService {
	return &fsService{root: root}
}

func (s *fsService) Open(name string) (fs.File, error) {
	clean := filepath.Clean("/" + name)
	return os.Open(filepath.Join(s.root, clean))
}
