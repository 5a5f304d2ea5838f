package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (and parents) if missing and returns its path.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// SaveFile writes data into dir under a sanitized version of name and
// returns the full path written.
func SaveFile(dir, name string, data []byte) (string, error) {
	if _, err := EnsureDir(dir); err != nil {
		return "", err
	}

	path := filepath.Join(dir, SanitizeName(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// SanitizeName strips path separators so a stored display name cannot
// escape the target directory.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "unnamed"
	}
	return name
}
