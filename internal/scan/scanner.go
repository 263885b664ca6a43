// Package scan discovers dropped CSV files and computes their content
// hashes for exactly-once processing.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is one discovered input file.
type File struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Scan lists the CSV files sitting directly in dir, oldest first by
// modification time. Subdirectories (including the processed/ and
// error/ archives) are never descended into.
func Scan(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory %s: %w", dir, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Raced with a concurrent move; skip this pass
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}
