// Package pathutil confines caller-supplied paths to known directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath shortens a path to .../<parent>/<basename> for messages that
// may leave the process, e.g. "/home/user/.poseidon/exports/a.json.gz"
// becomes ".../exports/a.json.gz".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath returns an error unless path, after cleaning and symlink
// resolution, lies inside one of allowedDirs. path need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return fmt.Errorf("path validation failed: path is empty")
	case len(allowedDirs) == 0:
		return fmt.Errorf("path validation failed: no allowed directories configured")
	case strings.ContainsRune(path, '\x00'):
		return fmt.Errorf("path validation failed: path contains null byte")
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve absolute path: %w", err)
	}
	// Resolve through the parent so a symlinked directory cannot escape.
	resolvedDir, err := resolveExisting(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("path validation failed: cannot resolve parent directory: %w", err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(absPath))

	for _, allowed := range allowedDirs {
		allowedAbs, err := filepath.Abs(filepath.Clean(allowed))
		if err != nil {
			continue
		}
		allowedResolved, err := resolveExisting(allowedAbs)
		if err != nil {
			continue
		}
		if within(resolved, allowedResolved) {
			return nil
		}
	}
	return fmt.Errorf("path validation failed: %q is outside allowed directories", RedactPath(absPath))
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of dir
// and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// within reports whether path is base or below it.
func within(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// AllowedExportDirs returns the directories run archives may be written to:
// exportDir itself and ~/.poseidon/exports.
func AllowedExportDirs(exportDir string) []string {
	var dirs []string
	if exportDir != "" {
		dirs = append(dirs, exportDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".poseidon", "exports"))
	}
	return dirs
}
