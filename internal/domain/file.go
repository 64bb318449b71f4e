package domain

// FileUpdate is one pending change in the draft map. A nil Content is a
// tombstone: the file is deleted but the entry stays so that deletions can
// be replicated.
type FileUpdate struct {
	GithubPath   string  `json:"githubPath" yaml:"githubPath"`
	Content      *string `json:"content" yaml:"content"`
	AddedLines   int     `json:"addedLines,omitempty" yaml:"addedLines,omitempty"`
	DeletedLines int     `json:"deletedLines,omitempty" yaml:"deletedLines,omitempty"`
}

// Deleted reports whether u is a tombstone.
func (u FileUpdate) Deleted() bool { return u.Content == nil }

// FileMove renames one path.
type FileMove struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// FileSystem is the draft file collaborator the fan-out applies edits to.
type FileSystem interface {
	// Read returns the current content of path; ok is false when the file
	// does not exist or was deleted.
	Read(path string) (content string, ok bool)
	Write(path, content string) error
	Delete(path string) error
	Move(oldPath, newPath string) error
	WriteBatch(files map[string]string) error
	DeleteBatch(paths []string) error
	MoveBatch(moves []FileMove) error
	// ListFiles returns the live paths known to the draft map only.
	ListFiles() []string
}

// PageOracle returns the original, committed content of a page.
type PageOracle interface {
	PageContent(path string) (string, bool)
}
