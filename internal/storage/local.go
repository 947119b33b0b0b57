// Package storage keeps uploaded files on local disk
package storage

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/google/uuid"
)

// LocalStore writes uploads under a root directory
type LocalStore struct {
	root     string
	maxBytes int64
}

// StoredFile describes a file that was written
type StoredFile struct {
	Path string // relative to the store root, slash separated
	Size int64
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string, maxBytes int64) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &LocalStore{root: abs, maxBytes: maxBytes}, nil
}

// MaxBytes returns the per-file upload limit
func (s *LocalStore) MaxBytes() int64 {
	return s.maxBytes
}

// Save copies r into dir under a random name keeping the original extension.
// Files larger than the limit are removed and rejected.
func (s *LocalStore) Save(dir, originalName string, r io.Reader) (*StoredFile, error) {
	dir = strings.Trim(path.Clean("/"+filepath.ToSlash(dir)), "/")
	ext := strings.ToLower(filepath.Ext(originalName))
	rel := path.Join(dir, uuid.NewString()+ext)

	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating upload: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("writing upload: %w", copyErr)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		_ = os.Remove(full)
		return nil, errors.NewValidationError("file", fmt.Sprintf("file exceeds the %d MB limit", s.maxBytes>>20))
	}

	return &StoredFile{Path: rel, Size: n}, nil
}

// Open returns a reader for a stored file
func (s *LocalStore) Open(rel string) (*os.File, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewNotFoundError("file")
		}
		return nil, fmt.Errorf("opening stored file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file, ignoring files that are already gone
func (s *LocalStore) Delete(rel string) error {
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stored file: %w", err)
	}
	return nil
}

func (s *LocalStore) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", errors.NewBadRequestError("invalid file path")
	}
	return filepath.Join(s.root, clean), nil
}
