package jobs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"quacwatch/internal/fileutil"
)

// Marker line keys appended over a job's lifetime.
const (
	KeyCreated  = "created"
	KeySource   = "source"
	KeyStarted  = "started"
	KeyRunID    = "run_id"
	KeyCommand  = "cmd"
	KeyLog      = "log"
	KeyFinished = "finished"
	KeyExitCode = "exit_code"
	KeyError    = "error"
	KeyRequeued = "requeued"
)

// ErrTransitionLost is returned when the source marker no longer exists,
// typically because another runner already claimed the job.
var ErrTransitionLost = errors.New("marker transition lost")

// MarkerField is one "key: value" line.
type MarkerField struct {
	Key   string
	Value string
}

// Field builds a marker line.
func Field(key, value string) MarkerField {
	return MarkerField{Key: key, Value: value}
}

func (f MarkerField) String() string {
	value := strings.ReplaceAll(f.Value, "\n", " ")
	return f.Key + ": " + value
}

func encodeFields(fields []MarkerField) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString(f.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteReady writes the READY marker atomically. It must be the last write of
// materialization.
func WriteReady(l Layout, fields ...MarkerField) error {
	return fileutil.WriteFileAtomic(l.MarkerPath(StateReady), encodeFields(fields), 0o644)
}

// AppendMarker appends lines to the marker of state.
func AppendMarker(l Layout, state State, fields ...MarkerField) error {
	file, err := os.OpenFile(l.MarkerPath(state), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("append %s marker: %w", state, ErrTransitionLost)
		}
		return fmt.Errorf("append %s marker: %w", state, err)
	}
	defer file.Close()
	if _, err := file.Write(encodeFields(fields)); err != nil {
		return fmt.Errorf("append %s marker: %w", state, err)
	}
	return file.Sync()
}

// Transition renames the marker of from to the marker of to. The rename is
// the only lock on a job; a missing source marker yields ErrTransitionLost.
func Transition(l Layout, from, to State) error {
	if MarkerName(from) == "" || MarkerName(to) == "" {
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	if err := os.Rename(l.MarkerPath(from), l.MarkerPath(to)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s -> %s: %w", from, to, ErrTransitionLost)
		}
		return fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	return nil
}

// ReadMarker parses the marker of state.
func ReadMarker(l Layout, state State) ([]MarkerField, error) {
	data, err := os.ReadFile(l.MarkerPath(state))
	if err != nil {
		return nil, err
	}
	return ParseMarker(data), nil
}

// ParseMarker parses "key: value" lines. Lines without a separator are kept
// with an empty key.
func ParseMarker(data []byte) []MarkerField {
	var fields []MarkerField
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			fields = append(fields, MarkerField{Value: line})
			continue
		}
		fields = append(fields, MarkerField{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return fields
}

// LastValue returns the value of the last field named key.
func LastValue(fields []MarkerField, key string) (string, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].Key == key {
			return fields[i].Value, true
		}
	}
	return "", false
}

// Requeue demotes a WORKING or FAILED job back to READY after clearing its
// output and work folders. It is the operator recovery path for jobs left
// behind by a crash or a pipeline fix.
func Requeue(l Layout, at string) (State, error) {
	state, err := l.State()
	if err != nil {
		return "", err
	}
	if state != StateWorking && state != StateFailed {
		return state, fmt.Errorf("job %s is %s; only working or failed jobs can be requeued", l.Key, state)
	}
	for _, dir := range []string{l.OutputDir(), l.WorkDir()} {
		if err := fileutil.EmptyDir(dir); err != nil {
			return state, fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	if err := AppendMarker(l, state, Field(KeyRequeued, at)); err != nil {
		return state, err
	}
	if err := Transition(l, state, StateReady); err != nil {
		return state, err
	}
	return state, nil
}
