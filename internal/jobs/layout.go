package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State represents the lifecycle of a job directory.
type State string

const (
	StateReady    State = "ready"
	StateWorking  State = "working"
	StateFinished State = "finished"
	StateFailed   State = "failed"
	// StateIncomplete is a directory without any marker: materialization in
	// progress or interrupted. The runner ignores it.
	StateIncomplete State = "incomplete"
)

// AllStates lists states in lifecycle order.
var AllStates = []State{StateIncomplete, StateReady, StateWorking, StateFinished, StateFailed}

// Marker file names.
const (
	MarkerReady    = ".ready"
	MarkerWorking  = ".working"
	MarkerFinished = ".finished"
	MarkerFailed   = ".failed"
)

const (
	MetadataFileName = "job.json"
	EventsFileName   = "events.jsonl"
	keyLength        = 32
)

// markerPrecedence decides the reported state if a crash left two markers.
var markerPrecedence = []State{StateFinished, StateFailed, StateWorking, StateReady}

// ParseState converts a user supplied state name.
func ParseState(value string) (State, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, state := range AllStates {
		if string(state) == value {
			return state, true
		}
	}
	return "", false
}

// MarkerName returns the marker file name for a state.
func MarkerName(state State) string {
	switch state {
	case StateReady:
		return MarkerReady
	case StateWorking:
		return MarkerWorking
	case StateFinished:
		return MarkerFinished
	case StateFailed:
		return MarkerFailed
	default:
		return ""
	}
}

// ContentKey returns the stable job key for a source path: the first 32 hex
// characters of the SHA-256 of its cleaned absolute form.
func ContentKey(sourcePath string) string {
	cleaned := filepath.Clean(sourcePath)
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}
	sum := sha256.Sum256([]byte(cleaned))
	return hex.EncodeToString(sum[:])[:keyLength]
}

// ValidKey reports whether key looks like a content key.
func ValidKey(key string) bool {
	if len(key) != keyLength {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

// Layout resolves the paths inside one job directory.
type Layout struct {
	Root           string
	Key            string
	ParamsFileName string
}

// NewLayout builds the layout for key below jobsDir.
func NewLayout(jobsDir, key, paramsFileName string) Layout {
	if paramsFileName == "" {
		paramsFileName = "mcquac.json"
	}
	return Layout{Root: jobsDir, Key: key, ParamsFileName: paramsFileName}
}

func (l Layout) Dir() string          { return filepath.Join(l.Root, l.Key) }
func (l Layout) InputDir() string     { return filepath.Join(l.Dir(), "input") }
func (l Layout) OutputDir() string    { return filepath.Join(l.Dir(), "output") }
func (l Layout) WorkDir() string      { return filepath.Join(l.Dir(), "work") }
func (l Layout) LogsDir() string      { return filepath.Join(l.Dir(), "logs") }
func (l Layout) ParamsPath() string   { return filepath.Join(l.Dir(), l.ParamsFileName) }
func (l Layout) MetadataPath() string { return filepath.Join(l.Dir(), MetadataFileName) }
func (l Layout) EventsPath() string   { return filepath.Join(l.LogsDir(), EventsFileName) }

// MarkerPath returns the path of the marker for state.
func (l Layout) MarkerPath(state State) string {
	return filepath.Join(l.Dir(), MarkerName(state))
}

// PipelineLogPath returns a timestamped pipeline log path.
func (l Layout) PipelineLogPath(now time.Time) string {
	return filepath.Join(l.LogsDir(), "pipeline-"+now.Format("20060102-150405")+".log")
}

// LatestPipelineLog returns the newest pipeline log, or "" when none exists.
func (l Layout) LatestPipelineLog() string {
	matches, err := filepath.Glob(filepath.Join(l.LogsDir(), "pipeline-*.log"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	// Timestamped names sort chronologically.
	latest := matches[0]
	for _, m := range matches[1:] {
		if m > latest {
			latest = m
		}
	}
	return latest
}

// State inspects the markers present in the job directory.
func (l Layout) State() (State, error) {
	info, err := os.Stat(l.Dir())
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", l.Dir())
	}
	for _, state := range markerPrecedence {
		if _, err := os.Stat(l.MarkerPath(state)); err == nil {
			return state, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return StateIncomplete, nil
}

// MarkerModTime returns the modification time of the marker for state.
func (l Layout) MarkerModTime(state State) (time.Time, error) {
	info, err := os.Stat(l.MarkerPath(state))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
