// Package notebook defines the storage collaborator the tool router
// delegates to, plus a filesystem-rooted implementation used by the
// CLI and tests.
package notebook

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("notebook: file not found")
	ErrExists   = errors.New("notebook: file already exists")
	ErrBadPath  = errors.New("notebook: path escapes notebook root")
)

// Metadata describes a stored file.
type Metadata struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// File is a read result: content plus metadata.
type File struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// WriteResult reports the outcome of a mutation.
type WriteResult struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Created bool   `json:"created"`
}

// Entry is one row of a directory listing.
type Entry struct {
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Match is one content-search hit.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// Store is the storage engine consumed by the tool router. The router
// performs no retries of its own; retry policy, if any, lives behind
// this interface.
type Store interface {
	ReadFile(ctx context.Context, path string) (*File, error)
	WriteFile(ctx context.Context, path, content string, properties map[string]string) (*WriteResult, error)
	CreateFile(ctx context.Context, path, content string) (*WriteResult, error)
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context, dir, pattern string) ([]Entry, error)
	SearchContent(ctx context.Context, query string) ([]Match, error)
	Metadata(ctx context.Context, path string) (*Metadata, error)
}
