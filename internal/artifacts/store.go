// Package artifacts stores task input documents on local disk and fetches
// discovered papers into that store.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for artifact operations.
var (
	// ErrTooLarge is returned when content exceeds the allowed size.
	ErrTooLarge = errors.New("artifacts: content exceeds maximum size")
	// ErrOutsideStore is returned for paths that do not belong to the store.
	ErrOutsideStore = errors.New("artifacts: path outside store")
)

// Artifact describes a stored input document.
type Artifact struct {
	Path      string
	Hash      string
	SizeBytes int64
}

// Store keeps one input document per task under a base directory.
type Store struct {
	dir string
}

// NewStore creates the base directory if needed.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute base directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns where the input of taskID is stored.
func (s *Store) Path(taskID uuid.UUID) string {
	return filepath.Join(s.dir, taskID.String()+".pdf")
}

// Save streams r into the task's input file and returns its sha256.
// maxSize <= 0 means unlimited. A partial file is never left behind.
func (s *Store) Save(taskID uuid.UUID, r io.Reader, maxSize int64) (*Artifact, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	if maxSize > 0 && n > maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, maxSize)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing artifact: %w", err)
	}

	path := s.Path(taskID)
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("committing artifact: %w", err)
	}
	committed = true

	return &Artifact{
		Path:      path,
		Hash:      hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes: n,
	}, nil
}

// Exists reports whether path names a regular file.
func (s *Store) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the given files. Missing files are ignored; paths outside
// the store are refused.
func (s *Store) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !s.contains(p) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrOutsideStore, p))
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
