package reportstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"intelpipe/internal/report"
)

// FileStore keeps reports as JSON files in one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure report dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Put writes to a temp file and hard-links it into place, so a report is
// either complete or absent and an existing one is never replaced.
func (s *FileStore) Put(ctx context.Context, doc *report.Document) (string, error) {
	b, err := encode(doc)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	name, err := putNew(doc.GeneratedAt, func(name string) error {
		err := os.Link(tmp.Name(), filepath.Join(s.dir, name))
		if errors.Is(err, fs.ErrExist) {
			return errKeyExists
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("commit report: %w", err)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FileStore) Latest(ctx context.Context) (*report.Document, error) {
	return latest(ctx, s)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return reportNames(names), nil
}

func (s *FileStore) Get(ctx context.Context, name string) (*report.Document, error) {
	key, err := reportName(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read report %s: %w", key, err)
	}
	return decode(key, b)
}
