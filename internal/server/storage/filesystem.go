package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrNotStored = errors.New("transcript not stored")

// transcriptExt is appended to a run ID to form its file name.
const transcriptExt = ".txt"

// Store keeps run transcripts.
type Store interface {
	Save(runID string, data io.Reader) (int64, error)
	Open(runID string) (io.ReadCloser, error)
	GetPath(runID string) (string, error)
	Delete(runID string) error
	EnsureDir() error
}

// FileSystemStore keeps transcripts as text files in one directory.
type FileSystemStore struct {
	basePath string
}

func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes a transcript to {runID}.txt and returns the bytes written.
// The file only appears under its final name once fully written.
func (fs *FileSystemStore) Save(runID string, data io.Reader) (int64, error) {
	filePath := fs.filePath(runID)

	tmp, err := os.CreateTemp(fs.basePath, runID+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", runID, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close transcript: %w", err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return 0, fmt.Errorf("failed to store transcript %s: %w", filePath, err)
	}

	return n, nil
}

// Open returns a reader over a stored transcript.
func (fs *FileSystemStore) Open(runID string) (io.ReadCloser, error) {
	path, err := fs.GetPath(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	return f, nil
}

// GetPath returns the path to a stored transcript, or ErrNotStored.
func (fs *FileSystemStore) GetPath(runID string) (string, error) {
	filePath := fs.filePath(runID)

	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: run %s", ErrNotStored, runID)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

// Delete removes a stored transcript. Missing transcripts are not an error.
func (fs *FileSystemStore) Delete(runID string) error {
	filePath := fs.filePath(runID)
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(runID string) string {
	return filepath.Join(fs.basePath, runID+transcriptExt)
}
