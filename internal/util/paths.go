package util

import (
	"path/filepath"
)

// CombinePaths joins base with rel unless rel is already absolute.
func CombinePaths(base, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}
