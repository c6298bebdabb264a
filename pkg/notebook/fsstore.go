package notebook

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/notedock/notedock/pkg/scope"
)

// FSStore implements Store on a directory tree. Every notebook path
// is normalized and anchored under the root before any filesystem
// call, so the store itself cannot be walked out of.
type FSStore struct {
	root   string
	logger zerolog.Logger
}

// NewFSStore creates a store rooted at dir, creating it if needed.
func NewFSStore(dir string, logger zerolog.Logger) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("notebook: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("notebook: create root: %w", err)
	}
	logger.Info().Str("root", abs).Msg("Notebook store opened")
	return &FSStore{root: abs, logger: logger}, nil
}

// Root returns the absolute notebook root directory.
func (s *FSStore) Root() string {
	return s.root
}

// resolve maps a notebook path to an absolute filesystem path.
func (s *FSStore) resolve(p string) (string, error) {
	normalized, ok := scope.Normalize(p)
	if !ok {
		return "", ErrBadPath
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(normalized, "/"))), nil
}

func (s *FSStore) ReadFile(ctx context.Context, p string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notebook: stat %s: %w", p, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("notebook: read %s: %w", p, err)
	}

	return &File{
		Content: string(data),
		Metadata: Metadata{
			Path:       p,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		},
	}, nil
}

func (s *FSStore) WriteFile(ctx context.Context, p, content string, properties map[string]string) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("notebook: mkdir for %s: %w", p, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("notebook: write %s: %w", p, err)
	}

	s.logger.Debug().Str("path", p).Int("bytes", len(content)).Bool("created", created).Msg("File written")
	return &WriteResult{Path: p, Bytes: len(content), Created: created}, nil
}

func (s *FSStore) CreateFile(ctx context.Context, p, content string) (*WriteResult, error) {
	abs, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err == nil {
		return nil, ErrExists
	}
	return s.WriteFile(ctx, p, content, nil)
}

func (s *FSStore) DeleteFile(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("notebook: delete %s: %w", p, err)
	}
	s.logger.Debug().Str("path", p).Msg("File deleted")
	return nil
}

func (s *FSStore) ListFiles(ctx context.Context, dir, pattern string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notebook: list %s: %w", dir, err)
	}

	normalized, _ := scope.Normalize(dir)
	var entries []Entry
	for _, de := range dirents {
		if pattern != "" && pattern != "*" {
			if ok, err := path.Match(pattern, de.Name()); err != nil || !ok {
				continue
			}
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Path:       path.Join(normalized, de.Name()),
			IsDir:      de.IsDir(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *FSStore) SearchContent(ctx context.Context, query string) ([]Match, error) {
	if query == "" {
		return nil, nil
	}

	var matches []Match
	err := filepath.WalkDir(s.root, func(abs string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, abs)
		if err != nil {
			return err
		}

		file, err := os.Open(abs)
		if err != nil {
			return nil
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if strings.Contains(strings.ToLower(text), strings.ToLower(query)) {
				matches = append(matches, Match{
					Path:    "/" + filepath.ToSlash(rel),
					Line:    line,
					Snippet: strings.TrimSpace(text),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notebook: search: %w", err)
	}
	return matches, nil
}

func (s *FSStore) Metadata(ctx context.Context, p string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("notebook: stat %s: %w", p, err)
	}
	return &Metadata{Path: p, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}
