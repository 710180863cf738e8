package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"quacwatch/internal/fileutil"
)

// EnqueuedSet records the names handed to the materializer during this run.
// It is safe for concurrent use.
type EnqueuedSet struct {
	mu    sync.Mutex
	names map[string]struct{}
	path  string
}

// NewEnqueuedSet returns an empty set. When path is non-empty the set is
// mirrored there and any file left by a previous run is truncated.
func NewEnqueuedSet(path string) (*EnqueuedSet, error) {
	s := &EnqueuedSet{names: make(map[string]struct{}), path: path}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create enqueued-set directory: %w", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("reset enqueued set: %w", err)
		}
	}
	return s, nil
}

// Add inserts name and reports whether it was absent.
func (s *EnqueuedSet) Add(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return false, nil
	}
	s.names[name] = struct{}{}
	return true, s.persistLocked()
}

// Remove deletes name so a later cycle may emit it again.
func (s *EnqueuedSet) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; !ok {
		return nil
	}
	delete(s.names, name)
	return s.persistLocked()
}

// Contains reports whether name was handed off during this run.
func (s *EnqueuedSet) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}

// Names returns the sorted contents of the set.
func (s *EnqueuedSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *EnqueuedSet) sortedLocked() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *EnqueuedSet) persistLocked() error {
	if s.path == "" {
		return nil
	}
	names := s.sortedLocked()
	content := strings.Join(names, "\n")
	if content != "" {
		content += "\n"
	}
	if err := fileutil.WriteFileAtomic(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("persist enqueued set: %w", err)
	}
	return nil
}
