package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/runbed/runbed/model"
)

// safeRelPath validates a project-relative path against directory
// traversal and absolute paths, returning its cleaned form.
func safeRelPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe relative path: %s", path)
	}
	return clean, nil
}

// materializeSnapshot writes a point-in-time, read-only copy of the
// project's files under root. The snapshot is what the sandbox sees;
// stored files are never touched again for the lifetime of the
// execution.
func materializeSnapshot(fs FileSystem, root string, files []model.File) error {
	if err := fs.MkdirAll(root, DirPermission); err != nil {
		return fmt.Errorf("failed to create snapshot root: %w", err)
	}

	for _, file := range files {
		clean, err := safeRelPath(file.Path)
		if err != nil {
			return fmt.Errorf("invalid file path in project %s: %w", file.ProjectID, err)
		}

		dest := filepath.Join(root, clean)
		if !strings.HasPrefix(dest, root+string(filepath.Separator)) {
			return fmt.Errorf("file path escapes snapshot root: %s", file.Path)
		}

		if err := fs.MkdirAll(filepath.Dir(dest), DirPermission); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
		if err := fs.WriteFile(dest, []byte(file.Content), FilePermission); err != nil {
			return fmt.Errorf("failed to write snapshot file: %w", err)
		}
	}

	return nil
}

// containsEntry reports whether entryFile names one of the snapshot
// files, comparing cleaned paths.
func containsEntry(files []model.File, entryFile string) bool {
	clean, err := safeRelPath(entryFile)
	if err != nil {
		return false
	}
	for _, file := range files {
		if fileClean, err := safeRelPath(file.Path); err == nil && fileClean == clean {
			return true
		}
	}
	return false
}
