package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Usage is the on-disk size of an index root.
type Usage struct {
	// Total counts every regular file under the root.
	Total int64 `json:"total_bytes"`
	// Generations maps each top-level directory (one per index generation) to its size.
	Generations map[string]int64 `json:"generations,omitempty"`
}

// DiskUsage measures root. A missing root has zero usage.
func DiskUsage(root string) (Usage, error) {
	u := Usage{Generations: make(map[string]int64)}
	if root == "" {
		return u, nil
	}
	root = filepath.Clean(root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed by a concurrent garbage collection.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		u.Total += info.Size()
		if rel, err := filepath.Rel(root, path); err == nil {
			if top, _, nested := strings.Cut(rel, string(filepath.Separator)); nested {
				u.Generations[top] += info.Size()
			}
		}
		return nil
	})
	return u, err
}
