package scan

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
)

// HashFile streams the file through MD5 and returns the hex digest.
// The digest identifies file content for deduplication, not integrity.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
