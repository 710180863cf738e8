package jobs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NewestFile returns the newest regular file in dir matching pattern. Ties on
// modification time go to the larger file, then to the lexically greater name.
// A missing dir or no match yields "".
func NewestFile(dir, pattern string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	var (
		best     string
		bestInfo fs.FileInfo
	)
	for _, entry := range entries {
		if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if bestInfo == nil || newer(info, bestInfo) {
			best = filepath.Join(dir, entry.Name())
			bestInfo = info
		}
	}
	return best, nil
}

func newer(a, b fs.FileInfo) bool {
	if !a.ModTime().Equal(b.ModTime()) {
		return a.ModTime().After(b.ModTime())
	}
	if a.Size() != b.Size() {
		return a.Size() > b.Size()
	}
	return a.Name() > b.Name()
}
