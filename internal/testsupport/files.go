package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteAcquisition writes a fake instrument file of size bytes. A size <= 0
// writes a single byte so the detector treats the file as non-empty.
func WriteAcquisition(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteBrukerAcquisition creates a .d acquisition directory holding the given
// relative files and sizes. It returns the total byte count.
func WriteBrukerAcquisition(t testing.TB, dir string, files map[string]int64) int64 {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	for _, name := range names {
		size := files[name]
		if size <= 0 {
			size = 1
		}
		WriteAcquisition(t, filepath.Join(dir, name), size)
		total += size
	}
	return total
}
