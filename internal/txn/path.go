package txn

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AbsPath prefixes relative paths with the working directory. It performs
// no other rewriting.
func AbsPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return cwd + string(filepath.Separator) + path, nil
}

// SimplifyPath collapses "/./" segments and repeated slashes. Unlike
// filepath.Clean it never resolves "..": a parent directory reached through
// a symlink is not the lexical parent.
func SimplifyPath(path string) string {
	for {
		next := strings.ReplaceAll(path, "/./", "/")
		next = strings.ReplaceAll(next, "//", "/")
		if next == path {
			return path
		}
		path = next
	}
}
