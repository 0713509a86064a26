// Package pathsec implements workspace-scoped path validation: every
// persona gets a workspace root it cannot escape, and every file path is
// canonicalized and checked before any I/O operation. Ported from
// original_source's path_security.rs (recovered from original_source;
// _INDEX.md lists it) into the teacher's error-taxonomy idiom
// (corerr.Client for every rejection, per spec.md §7's client-error
// category covering path-security violations).
package pathsec

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cambriantech/continuum-core/internal/corerr"
)

// MaxWriteSize is the maximum size in bytes a single write operation may
// produce, mirroring original_source's MAX_WRITE_SIZE constant.
const MaxWriteSize = 10 * 1024 * 1024

// AllowedExtensions is the write-path extension allowlist.
var AllowedExtensions = map[string]struct{}{
	"ts": {}, "tsx": {}, "js": {}, "jsx": {}, "json": {}, "md": {}, "css": {},
	"html": {}, "rs": {}, "go": {}, "toml": {}, "yaml": {}, "yml": {},
	"txt": {}, "sh": {}, "py": {},
}

// Guard is a workspace-scoped path security validator, created per persona
// with their assigned workspace root.
type Guard struct {
	workspaceRoot string
	readRoots     []string
}

// New canonicalizes root and returns a Guard scoped to it. root must exist
// and be a directory.
func New(root string) (*Guard, error) {
	canonical, err := canonicalize(root)
	if err != nil {
		return nil, corerr.Client("pathsec.New", "invalid workspace root %q: %v", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil || !info.IsDir() {
		return nil, corerr.Client("pathsec.New", "workspace root %q is not a directory", root)
	}
	return &Guard{workspaceRoot: canonical}, nil
}

// AddReadRoot adds a read-only root (e.g. the main codebase for discovery).
// Paths within read roots can be read but never written.
func (g *Guard) AddReadRoot(root string) error {
	canonical, err := canonicalize(root)
	if err != nil {
		return corerr.Client("pathsec.AddReadRoot", "invalid read root %q: %v", root, err)
	}
	g.readRoots = append(g.readRoots, canonical)
	return nil
}

// WorkspaceRoot returns the canonicalized workspace root.
func (g *Guard) WorkspaceRoot() string { return g.workspaceRoot }

// ValidateRead resolves relativePath for a read operation. The path must
// land within the workspace root or any read-only root; returns the
// absolute, canonicalized path.
func (g *Guard) ValidateRead(relativePath string) (string, error) {
	if resolved, ok := g.resolveWithin(g.workspaceRoot, relativePath); ok {
		return resolved, nil
	}
	for _, root := range g.readRoots {
		if resolved, ok := g.resolveWithin(root, relativePath); ok {
			return resolved, nil
		}
	}
	return "", corerr.Client("pathsec.ValidateRead", "path %q escapes workspace %q", relativePath, g.workspaceRoot)
}

// ValidateWrite resolves relativePath for a write operation and checks its
// extension against AllowedExtensions. The path must land within the
// workspace root (never a read-only root).
func (g *Guard) ValidateWrite(relativePath string) (string, error) {
	resolved, err := g.resolveForWrite(relativePath)
	if err != nil {
		return "", err
	}
	if err := g.checkExtension(relativePath); err != nil {
		return "", err
	}
	return resolved, nil
}

// ValidateSize rejects a write whose size exceeds MaxWriteSize.
func (g *Guard) ValidateSize(path string, size int64) error {
	if size > MaxWriteSize {
		return corerr.Client("pathsec.ValidateSize", "file %q is %d bytes (max %d)", path, size, MaxWriteSize)
	}
	return nil
}

func (g *Guard) resolveWithin(root, relativePath string) (string, bool) {
	joined := filepath.Join(root, relativePath)
	if _, err := os.Lstat(joined); err != nil {
		return "", false
	}
	canonical, err := canonicalize(joined)
	if err != nil {
		return "", false
	}
	if !isWithin(canonical, root) {
		return "", false
	}
	return canonical, true
}

// resolveForWrite resolves relativePath for a write, walking up to the
// nearest existing ancestor directory when the file itself does not yet
// exist. This lets a write create a file in a not-yet-existing
// subdirectory, e.g. "shared/format-utils.go" when "shared/" doesn't exist
// yet, matching original_source's resolve_for_write.
func (g *Guard) resolveForWrite(relativePath string) (string, error) {
	normalized := normalizePath(relativePath)
	if strings.HasPrefix(normalized, "..") || strings.Contains(normalized, "/../") {
		return "", corerr.Client("pathsec.ValidateWrite", "path %q escapes workspace %q", relativePath, g.workspaceRoot)
	}

	joined := filepath.Join(g.workspaceRoot, normalized)

	if _, err := os.Lstat(joined); err == nil {
		canonical, err := canonicalize(joined)
		if err != nil {
			return "", corerr.Client("pathsec.ValidateWrite", "invalid path %q", relativePath)
		}
		if !isWithin(canonical, g.workspaceRoot) {
			return "", corerr.Client("pathsec.ValidateWrite", "path %q escapes workspace %q", relativePath, g.workspaceRoot)
		}
		return canonical, nil
	}

	ancestor := joined
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		if _, err := os.Stat(parent); err == nil {
			canonicalAncestor, err := canonicalize(parent)
			if err != nil {
				return "", corerr.Client("pathsec.ValidateWrite", "invalid path %q", relativePath)
			}
			if !isWithin(canonicalAncestor, g.workspaceRoot) {
				return "", corerr.Client("pathsec.ValidateWrite", "path %q escapes workspace %q", relativePath, g.workspaceRoot)
			}
			remaining, err := filepath.Rel(parent, joined)
			if err != nil {
				return "", corerr.Client("pathsec.ValidateWrite", "invalid path %q", relativePath)
			}
			return filepath.Join(canonicalAncestor, remaining), nil
		}
		ancestor = parent
	}

	return "", corerr.Client("pathsec.ValidateWrite", "path %q escapes workspace %q", relativePath, g.workspaceRoot)
}

func (g *Guard) checkExtension(path string) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if _, ok := AllowedExtensions[ext]; !ok {
		return corerr.Client("pathsec.ValidateWrite", "extension %q not allowed for %q", ext, path)
	}
	return nil
}

// normalizePath collapses "." and ".." components without touching the
// filesystem. If ".." underflows past the root, the result starts with
// ".." to signal a traversal attempt.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	components := make([]string, 0, len(parts))
	depth := 0
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if depth > 0 {
				components = components[:len(components)-1]
				depth--
			} else {
				components = append(components, "..")
			}
		default:
			components = append(components, part)
			depth++
		}
	}
	return strings.Join(components, "/")
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
