// Package store keeps a schedule document in a local JSON file. It stands in
// for the dashboard's backing store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"schedcal/internal/fileutil"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// FileStore reads and writes one document file. Writes replace the whole
// file atomically, so a reader never sees a half-written document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file is an empty document.
func (s *FileStore) Load(ctx context.Context) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return model.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("document file missing; starting empty", "path", s.path)
			return model.NewDocument(), nil
		}
		return model.Document{}, err
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// Save replaces the document file with doc.
func (s *FileStore) Save(ctx context.Context, doc model.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fileutil.WriteAtomic(s.path, data, ".schedcal-doc-*.tmp")
}
