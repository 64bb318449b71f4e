package pages

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docchat/internal/domain"
)

// sandbox confines page paths to a root directory.
type sandbox struct {
	root string // absolute, symlinks resolved
}

func newSandbox(root string) (*sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve pages root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for pages root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat pages root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pages root %q is not a directory", resolved)
	}
	return &sandbox{root: resolved}, nil
}

// resolve maps a repository-relative page path to an absolute file path
// inside the root. Symlinks are resolved before the containment check; a
// path that does not exist yet is checked through its nearest existing
// ancestor.
func (s *sandbox) resolve(page string) (string, error) {
	if page == "" || filepath.IsAbs(page) {
		return "", domain.NewDomainError("pages.resolve", domain.ErrPathOutsideSandbox, fmt.Sprintf("invalid page path %q", page))
	}
	joined := filepath.Join(s.root, filepath.FromSlash(page))

	existing, rest := joined, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			full := filepath.Join(resolved, rest)
			if !s.within(full) {
				return "", domain.NewDomainError("pages.resolve", domain.ErrPathOutsideSandbox,
					fmt.Sprintf("resolved %q is outside root %q", full, s.root))
			}
			return full, nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", domain.NewDomainError("pages.resolve", domain.ErrPathOutsideSandbox, err.Error())
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func (s *sandbox) within(path string) bool {
	return path == s.root || strings.HasPrefix(path, s.root+string(os.PathSeparator))
}
