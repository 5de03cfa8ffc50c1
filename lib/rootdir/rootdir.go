// Package rootdir locates the installed toolchain root by walking parent
// directories until one of a set of marker directories is found.
package rootdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxDepth bounds the walk. Parent traversal is acyclic on sane filesystems;
// the bound only guards against pathological parent links.
const MaxDepth = 256

// ErrRootNotFound is matched by every NotFoundError.
var ErrRootNotFound = errors.New("toolchain root not found")

// NotFoundError reports a walk that reached the filesystem root without
// finding any marker.
type NotFoundError struct {
	Start   string
	Markers []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unable to find project root from %s: expecting to find one of %s in project root",
		e.Start, strings.Join(e.Markers, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrRootNotFound
}

// Find returns the first directory, starting at startDir and moving towards
// the filesystem root, that has any of markers as an immediate child directory.
func Find(startDir string, markers ...string) (string, error) {
	if len(markers) == 0 {
		return "", errors.New("no marker directories given")
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	for depth := 0; depth < MaxDepth; depth++ {
		if hasMarker(dir, markers) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", &NotFoundError{Start: startDir, Markers: append([]string(nil), markers...)}
}

func hasMarker(dir string, markers []string) bool {
	for _, m := range markers {
		info, err := os.Stat(filepath.Join(dir, m))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
