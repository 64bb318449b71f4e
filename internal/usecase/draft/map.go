// Package draft holds pending file edits made by the assistant and the edit
// tools that produce them.
package draft

import (
	"sort"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"docchat/internal/domain"
)

// Map is the draft file map. Deleted files stay in the map as tombstones so
// deletions can be replicated. Map is safe for concurrent use.
type Map struct {
	mu      sync.RWMutex
	files   map[string]domain.FileUpdate
	oracle  domain.PageOracle
	version uint64
}

var _ domain.FileSystem = (*Map)(nil)

// NewMap creates an empty draft map. oracle may be nil, in which case every
// path is treated as new.
func NewMap(oracle domain.PageOracle) *Map {
	return &Map{files: make(map[string]domain.FileUpdate), oracle: oracle}
}

// FromUpdates builds a map from previously recorded updates.
func FromUpdates(oracle domain.PageOracle, updates []domain.FileUpdate) *Map {
	m := NewMap(oracle)
	for _, u := range updates {
		m.files[u.GithubPath] = cloneUpdate(u)
	}
	return m
}

// Clone returns an independent copy sharing only the oracle. Optimistic
// edits are applied to clones so the authoritative map never sees them.
func (m *Map) Clone() *Map {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := &Map{files: make(map[string]domain.FileUpdate, len(m.files)), oracle: m.oracle, version: m.version}
	for k, v := range m.files {
		cp.files[k] = cloneUpdate(v)
	}
	return cp
}

// Version increases on every mutation.
func (m *Map) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Get returns the raw entry for path, tombstones included.
func (m *Map) Get(path string) (domain.FileUpdate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.files[path]
	return cloneUpdate(u), ok
}

// Updates returns every entry sorted by path.
func (m *Map) Updates() []domain.FileUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.FileUpdate, 0, len(m.files))
	for _, u := range m.files {
		out = append(out, cloneUpdate(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GithubPath < out[j].GithubPath })
	return out
}

func (m *Map) Read(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readLocked(path)
}

func (m *Map) readLocked(path string) (string, bool) {
	if u, ok := m.files[path]; ok {
		if u.Deleted() {
			return "", false
		}
		return *u.Content, true
	}
	if m.oracle != nil {
		return m.oracle.PageContent(path)
	}
	return "", false
}

func (m *Map) Write(path, content string) error {
	if err := validPath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLocked(path, content)
	return nil
}

func (m *Map) writeLocked(path, content string) {
	original, _ := m.original(path)
	added, deleted := lineDelta(original, content)
	m.files[path] = domain.FileUpdate{
		GithubPath:   path,
		Content:      &content,
		AddedLines:   added,
		DeletedLines: deleted,
	}
	m.version++
}

func (m *Map) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(path)
}

func (m *Map) deleteLocked(path string) error {
	current, ok := m.readLocked(path)
	if !ok {
		return domain.NewSubSystemError("draft", "Map.Delete", domain.ErrNotFound, path)
	}
	deleted := countLines(current)
	if original, ok := m.original(path); ok {
		deleted = countLines(original)
	}
	m.files[path] = domain.FileUpdate{GithubPath: path, DeletedLines: deleted}
	m.version++
	return nil
}

// Move writes the content at newPath and tombstones oldPath. Both entries
// carry the moved line count.
func (m *Map) Move(oldPath, newPath string) error {
	if err := validPath(newPath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(oldPath, newPath)
}

func (m *Map) moveLocked(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	content, ok := m.readLocked(oldPath)
	if !ok {
		return domain.NewSubSystemError("draft", "Map.Move", domain.ErrNotFound, oldPath)
	}
	n := countLines(content)
	m.files[newPath] = domain.FileUpdate{GithubPath: newPath, Content: &content, AddedLines: n}
	m.files[oldPath] = domain.FileUpdate{GithubPath: oldPath, DeletedLines: n}
	m.version++
	return nil
}

func (m *Map) WriteBatch(files map[string]string) error {
	for path := range files {
		if err := validPath(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, content := range files {
		m.writeLocked(path, content)
	}
	return nil
}

// DeleteBatch tombstones every path. Missing paths are reported together
// and leave the map unchanged.
func (m *Map) DeleteBatch(paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchLocked(func() error {
		var missing []string
		for _, p := range paths {
			if err := m.deleteLocked(p); err != nil {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return domain.NewSubSystemError("draft", "Map.DeleteBatch", domain.ErrNotFound, strings.Join(missing, ", "))
		}
		return nil
	})
}

// MoveBatch applies moves in order. A failing move leaves the map unchanged.
func (m *Map) MoveBatch(moves []domain.FileMove) error {
	for _, mv := range moves {
		if err := validPath(mv.NewPath); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchLocked(func() error {
		for _, mv := range moves {
			if err := m.moveLocked(mv.OldPath, mv.NewPath); err != nil {
				return err
			}
		}
		return nil
	})
}

// batchLocked runs fn and restores the entries and version it started from
// when fn fails.
func (m *Map) batchLocked(fn func() error) error {
	files := make(map[string]domain.FileUpdate, len(m.files))
	for k, v := range m.files {
		files[k] = v
	}
	version := m.version
	if err := fn(); err != nil {
		m.files = files
		m.version = version
		return err
	}
	return nil
}

// ListFiles returns the live paths of the draft map, sorted. Paths that only
// exist in the original content are not listed.
func (m *Map) ListFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for path, u := range m.files {
		if !u.Deleted() {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Map) original(path string) (string, bool) {
	if m.oracle == nil {
		return "", false
	}
	return m.oracle.PageContent(path)
}

func validPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.NewDomainError("draft", domain.ErrInvalidInput, "empty path")
	}
	return nil
}

func cloneUpdate(u domain.FileUpdate) domain.FileUpdate {
	if u.Content != nil {
		c := *u.Content
		u.Content = &c
	}
	return u
}

// lineDelta counts the lines added and removed going from before to after.
func lineDelta(before, after string) (added, deleted int) {
	if before == after {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += countLines(d.Text)
		}
	}
	return added, deleted
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
