package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"dialectica/internal/logging"
)

// FileStore is a byte-oriented blob store rooted at a single directory.
// Keys are the deterministic paths produced by ConstructPath.
type FileStore struct {
	root string
}

// NewFileStore creates the blob root if needed and returns the store.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact store root required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the blob root directory.
func (fs *FileStore) Root() string { return fs.root }

// Write stores data at dir/file under the root, creating directories as
// needed. The write is atomic: a crash mid-write never leaves a partial blob.
func (fs *FileStore) Write(dir, file string, data []byte) (string, error) {
	fullDir := filepath.Join(fs.root, filepath.FromSlash(dir))
	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	target := filepath.Join(fullDir, file)
	if err := writeFileAtomic(target, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", file, err)
	}
	logging.ArtifactDebug("wrote %s (%d bytes)", filepath.Join(dir, file), len(data))
	return filepath.ToSlash(filepath.Join(dir, file)), nil
}

// Read loads the blob at the given store-relative path.
func (fs *FileStore) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", relPath, err)
	}
	return data, nil
}

// Exists reports whether a blob is present at the store-relative path.
func (fs *FileStore) Exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(fs.root, filepath.FromSlash(relPath)))
	return err == nil
}

// writeFileAtomic writes data to a temporary file, fsyncs, and renames it to
// the target path so a crash mid-write cannot corrupt an existing blob.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
