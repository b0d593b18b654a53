package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const archiveExt = ".log"

// Entry describes one archived transfer log.
type Entry struct {
	Digest  string
	Size    int64
	ModTime time.Time
}

// Store defines the interface for raw transfer log archives.
type Store interface {
	Save(digest string, data io.Reader) (int64, error)
	GetPath(digest string) (string, error)
	Delete(digest string) error
	List() ([]Entry, error)
	EnsureDir() error
}

// FileSystemStore keeps ingested transfer logs on the local filesystem,
// one file per content digest.
type FileSystemStore struct {
	basePath string
}

func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the archive directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to {digest}.log. The file is written under a temporary
// name and renamed into place, so a partially written log is never visible.
func (fs *FileSystemStore) Save(digest string, data io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(fs.basePath, "."+digest+"-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close archive file: %w", err)
	}

	if err := os.Rename(tmp.Name(), fs.filePath(digest)); err != nil {
		return 0, fmt.Errorf("failed to move archive file into place: %w", err)
	}
	return n, nil
}

// GetPath returns the path of an archived log.
// Returns an error if the file does not exist.
func (fs *FileSystemStore) GetPath(digest string) (string, error) {
	filePath := fs.filePath(digest)

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no archived log for %s", digest)
		}
		return "", fmt.Errorf("failed to stat archive file: %w", err)
	}

	return filePath, nil
}

// Delete removes an archived log. Missing files are not an error.
func (fs *FileSystemStore) Delete(digest string) error {
	filePath := fs.filePath(digest)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive file %s: %w", filePath, err)
	}
	return nil
}

// List returns every archived log, oldest first.
func (fs *FileSystemStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		entries = append(entries, Entry{
			Digest:  strings.TrimSuffix(name, archiveExt),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

func (fs *FileSystemStore) filePath(digest string) string {
	return filepath.Join(fs.basePath, digest+archiveExt)
}
