// Package workspace manages the directories agent42 works with.
//
// A Workspace is the project directory shared between the sandbox (mounted at
// MountPoint) and the host-side file tools.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MountPoint is where the workspace appears inside the sandbox. Paths the
// model sends under it are mapped back onto the host root.
const MountPoint = "/workspace"

// ErrOutsideWorkspace is returned for paths that resolve outside the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// Workspace is the project directory the agent operates on.
type Workspace struct {
	Root string
}

// New creates a Workspace rooted at the given path. It resolves ~ and
// symlinks and creates the root directory if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	if err := os.MkdirAll(resolved, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	return &Workspace{Root: canonical}, nil
}

// Resolve maps a model-supplied path onto the host workspace.
//
// Relative paths and paths under MountPoint are taken relative to the root;
// other absolute paths must already lie inside it. Symlinks are resolved, so a
// link pointing outside the workspace is rejected. The path need not exist.
func (w *Workspace) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	var abs string
	switch {
	case raw == MountPoint:
		abs = w.Root
	case strings.HasPrefix(raw, MountPoint+"/"):
		abs = filepath.Join(w.Root, strings.TrimPrefix(raw, MountPoint+"/"))
	case filepath.IsAbs(raw):
		abs = filepath.Clean(raw)
	default:
		abs = filepath.Join(w.Root, raw)
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if resolved != w.Root && !strings.HasPrefix(resolved, w.Root+string(filepath.Separator)) {
		return "", ErrOutsideWorkspace
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
