package media

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage resolves and serves files under a single base directory,
// such as the processed-image directory.
type LocalStorage struct {
	basePath string // absolute
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}
	log.Printf("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{basePath: absBasePath}, nil
}

func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// GetFullPath calculates the absolute path and performs security check
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	cleanRelativePath := filepath.Clean(filepath.FromSlash(relativePath))
	absFullPath, err := filepath.Abs(filepath.Join(ls.basePath, cleanRelativePath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", relativePath, err)
	}
	if absFullPath != ls.basePath && !strings.HasPrefix(absFullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
	}
	return absFullPath, nil
}

// Contains reports whether an absolute path lies under the base directory.
func (ls *LocalStorage) Contains(fullPath string) bool {
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(abs, ls.basePath+string(filepath.Separator))
}

// Open returns a reader for a stored file. path may be a stored record path
// (absolute or relative to the working directory) or relative to the base.
func (ls *LocalStorage) Open(path string) (io.ReadSeekCloser, os.FileInfo, error) {
	fullPath, err := filepath.Abs(path)
	if err != nil || !ls.Contains(fullPath) {
		if filepath.IsAbs(path) {
			return nil, nil, fmt.Errorf("invalid path: access denied for '%s'", path)
		}
		// relative to the base directory
		if fullPath, err = ls.GetFullPath(path); err != nil {
			return nil, nil, err
		}
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("asset not found at '%s': %w", path, err)
		}
		return nil, nil, fmt.Errorf("failed to open asset '%s': %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat asset '%s': %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, fmt.Errorf("asset '%s' is a directory", path)
	}
	return file, info, nil
}
