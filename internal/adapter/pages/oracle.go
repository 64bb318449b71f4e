// Package pages reads committed page content from a local checkout and
// writes finished drafts back to it.
package pages

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"docchat/internal/domain"
)

// maxPageSize caps the bytes read for one page.
const maxPageSize = 4 * 1024 * 1024

// Oracle implements domain.PageOracle over a directory.
type Oracle struct {
	sb     *sandbox
	logger *slog.Logger
}

// New creates an oracle rooted at root, which must be an existing directory.
func New(root string, logger *slog.Logger) (*Oracle, error) {
	sb, err := newSandbox(root)
	if err != nil {
		return nil, err
	}
	return &Oracle{sb: sb, logger: logger.With("component", "pages")}, nil
}

// Root returns the resolved root directory.
func (o *Oracle) Root() string { return o.sb.root }

// PageContent implements domain.PageOracle. Paths outside the root, missing
// files, directories and oversized files all report ok=false.
func (o *Oracle) PageContent(path string) (string, bool) {
	full, err := o.sb.resolve(path)
	if err != nil {
		o.logger.Warn("page lookup rejected", "path", path, "error", err)
		return "", false
	}
	info, err := os.Stat(full)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			o.logger.Warn("page stat failed", "path", path, "error", err)
		}
		return "", false
	}
	if info.IsDir() {
		return "", false
	}
	if info.Size() > maxPageSize {
		o.logger.Warn("page too large", "path", path, "size", info.Size())
		return "", false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		o.logger.Warn("page read failed", "path", path, "error", err)
		return "", false
	}
	return string(data), true
}

// Apply writes draft updates into the root. Tombstones remove the file.
// Every path is checked before anything is written.
func (o *Oracle) Apply(updates []domain.FileUpdate) error {
	resolved := make([]string, len(updates))
	for i, u := range updates {
		full, err := o.sb.resolve(u.GithubPath)
		if err != nil {
			return err
		}
		resolved[i] = full
	}

	for i, u := range updates {
		full := resolved[i]
		if u.Deleted() {
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", u.GithubPath, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", u.GithubPath, err)
		}
		if err := os.WriteFile(full, []byte(*u.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", u.GithubPath, err)
		}
	}
	o.logger.Info("draft applied", "files", len(updates))
	return nil
}

var _ domain.PageOracle = (*Oracle)(nil)
