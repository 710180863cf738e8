package ledger

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"quacwatch/internal/fileutil"
)

// FileName is the ledger file name inside a target output folder.
const FileName = "ignore.txt"

const lockRetryDelay = 100 * time.Millisecond

// Ledger is the persistent processed-file list of one watch target.
type Ledger struct {
	path string
	// mu serializes goroutines sharing this Ledger; flock only excludes other
	// open file descriptions.
	mu   sync.Mutex
	lock *flock.Flock
}

// New returns a ledger backed by path with its lock file beside it. The file
// is created on first append.
func New(path string) *Ledger {
	return &Ledger{path: path, lock: flock.New(path + ".lock")}
}

// NewWithLockDir returns a ledger backed by path whose lock file lives in
// lockDir, keeping the output folder free of lock files. Every process that
// writes the same ledger must use the same lockDir.
func NewWithLockDir(path, lockDir string) *Ledger {
	return &Ledger{path: path, lock: flock.New(LockPath(lockDir, path))}
}

// LockPath returns the lock file used for the ledger at path inside lockDir.
func LockPath(lockDir, path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return filepath.Join(lockDir, "ledger-"+hex.EncodeToString(sum[:])[:16]+".lock")
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads the current entries. A missing file is an empty ledger.
func (l *Ledger) Load() (map[string]struct{}, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		set[entry] = struct{}{}
	}
	return set, nil
}

// Entries returns ledger entries in file order, skipping blank lines and
// lines starting with '#'. Duplicates are kept.
func (l *Ledger) Entries() ([]string, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()
	return parse(file)
}

// Contains reports whether name is recorded in the ledger.
func (l *Ledger) Contains(name string) (bool, error) {
	set, err := l.Load()
	if err != nil {
		return false, err
	}
	_, ok := set[name]
	return ok, nil
}

// Append records name unless it is already present. It reports whether a line
// was written.
func (l *Ledger) Append(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create ledger directory: %w", err)
	}
	unlock, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	present, err := l.Contains(name)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("open ledger for append: %w", err)
	}
	defer file.Close()

	line := name + "\n"
	missingNewline, err := lacksTrailingNewline(l.path)
	if err != nil {
		return false, err
	}
	if missingNewline {
		line = "\n" + line
	}
	if _, err := file.WriteString(line); err != nil {
		return false, fmt.Errorf("append ledger: %w", err)
	}
	if err := file.Sync(); err != nil {
		return false, fmt.Errorf("sync ledger: %w", err)
	}
	return true, file.Close()
}

// Remove deletes every line equal to name, keeping comments and ordering. It
// is the operator equivalent of editing the file by hand and reports whether
// anything was removed.
func (l *Ledger) Remove(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	unlock, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read ledger: %w", err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	var b strings.Builder
	removed := false
	for _, line := range lines {
		if strings.TrimSpace(line) == name {
			removed = true
			continue
		}
		b.WriteString(line)
	}
	if !removed {
		return false, nil
	}
	if err := fileutil.WriteFileAtomic(l.path, []byte(b.String()), 0o644); err != nil {
		return false, fmt.Errorf("rewrite ledger: %w", err)
	}
	return true, nil
}

func (l *Ledger) acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	locked, err := l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	if !locked {
		l.mu.Unlock()
		return nil, fmt.Errorf("lock ledger %s: not acquired", l.path)
	}
	return func() {
		_ = l.lock.Unlock()
		l.mu.Unlock()
	}, nil
}

func parse(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}

func lacksTrailingNewline(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	buf := make([]byte, 1)
	if _, err := file.ReadAt(buf, info.Size()-1); err != nil {
		return false, fmt.Errorf("read ledger tail: %w", err)
	}
	return buf[0] != '\n', nil
}

// ValidateName reports why name cannot be stored as a ledger line: empty,
// padded with whitespace, containing a separator or newline, or starting with
// the comment marker.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("ledger entry must not be empty")
	case name != strings.TrimSpace(name):
		return fmt.Errorf("ledger entry %q has surrounding whitespace", name)
	case strings.ContainsAny(name, "/\n\r"):
		return fmt.Errorf("ledger entry %q must be a base file name", name)
	case strings.HasPrefix(name, "#"):
		return fmt.Errorf("ledger entry %q would be read as a comment", name)
	}
	return nil
}

// Matches reports whether name is covered by the loaded entries. Entries are
// exact base names; an entry containing glob metacharacters is also tried as a
// filepath.Match pattern so operators can exclude whole series by hand.
func Matches(entries map[string]struct{}, name string) bool {
	if _, ok := entries[name]; ok {
		return true
	}
	for entry := range entries {
		if !strings.ContainsAny(entry, "*?[") {
			continue
		}
		if ok, err := filepath.Match(entry, name); err == nil && ok {
			return true
		}
	}
	return false
}
