package connector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SourceTypeFilesystem tags documents read from directory trees.
const SourceTypeFilesystem = "filesystem"

// textExtensions are the file types the filesystem source ingests.
// Everything else is skipped silently.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
}

// Filesystem reads text documents from one or more directory trees.
type Filesystem struct {
	name string
	dirs []string
}

// NewFilesystem creates a filesystem source over the given directories.
func NewFilesystem(name string, dirs ...string) (*Filesystem, error) {
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one directory is required")
	}
	return &Filesystem{name: name, dirs: dirs}, nil
}

// Name implements Source.
func (f *Filesystem) Name() string { return f.name }

// Fetch walks every configured directory and returns one document per
// text file. Document IDs are "file/<dir-relative path>" with forward
// slashes, stable across fetches.
func (f *Filesystem) Fetch(ctx context.Context) ([]Document, error) {
	var docs []Document
	for _, dir := range f.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !textExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}

			doc, err := f.readFile(dir, path, d)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return docs, nil
}

func (f *Filesystem) readFile(dir, path string, d fs.DirEntry) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := d.Info()
	if err != nil {
		return Document{}, fmt.Errorf("stat %s: %w", path, err)
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	return Document{
		ID:         "file/" + rel,
		Text:       string(data),
		SourceType: SourceTypeFilesystem,
		Timestamp:  info.ModTime(),
		Metadata: map[string]any{
			"path": rel,
		},
	}, nil
}
