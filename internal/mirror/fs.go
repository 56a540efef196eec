package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is the local tree the mirror writes into. Paths are
// slash-separated and relative to the store root.
type FileStore interface {
	WriteText(path, content string) error
	WriteBinary(path string, data []byte) error
	ReadText(path string) (string, error)
	Delete(path string) error
	DeleteFolder(path string) error
	Rename(oldPath, newPath string) error
	List(path string) ([]string, error)
	Exists(path string) bool
	MkdirAll(path string) error
}

type osFileStore struct {
	root string
}

// NewOSFileStore returns a FileStore rooted at dir, creating it if
// needed.
func NewOSFileStore(dir string) (FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	root := filepath.Clean(dir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &osFileStore{root: root}, nil
}

func (s *osFileStore) abs(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return s.root, nil
	}
	rel := filepath.FromSlash(path)
	abs := filepath.Join(s.root, rel)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes store root", path)
	}
	return abs, nil
}

func (s *osFileStore) WriteText(path, content string) error {
	return s.WriteBinary(path, []byte(content))
}

func (s *osFileStore) WriteBinary(path string, data []byte) error {
	abs, err := s.abs(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(abs, data, 0o644)
}

func (s *osFileStore) ReadText(path string) (string, error) {
	abs, err := s.abs(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *osFileStore) Delete(path string) error {
	abs, err := s.abs(path)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *osFileStore) DeleteFolder(path string) error {
	abs, err := s.abs(path)
	if err != nil {
		return err
	}
	if abs == s.root {
		return fmt.Errorf("refusing to delete store root")
	}
	err = os.Remove(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *osFileStore) Rename(oldPath, newPath string) error {
	oldAbs, err := s.abs(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := s.abs(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newAbs), 0o755); err != nil {
		return err
	}
	return os.Rename(oldAbs, newAbs)
}

func (s *osFileStore) List(path string) ([]string, error) {
	abs, err := s.abs(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *osFileStore) Exists(path string) bool {
	abs, err := s.abs(path)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(abs)
	return statErr == nil
}

func (s *osFileStore) MkdirAll(path string) error {
	abs, err := s.abs(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
