package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsAccessLog reports whether a file name designates an uncompressed
// access log
func IsAccessLog(name string) bool {
	return strings.Contains(name, "access.log") &&
		!strings.HasSuffix(name, ".gz") &&
		!strings.Contains(name, "error.log")
}

// DiscoverLogFiles lists the access logs of dir, sorted by path
func DiscoverLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsAccessLog(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
