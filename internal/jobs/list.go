package jobs

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"
)

// Summary is a snapshot of one job directory.
type Summary struct {
	Layout    Layout
	State     State
	UpdatedAt time.Time
	Metadata  *Metadata
	Fields    []MarkerField
}

// ExitCode returns the last recorded exit code, if any.
func (s Summary) ExitCode() (string, bool) {
	return LastValue(s.Fields, KeyExitCode)
}

// Inspect builds the summary of one job.
func Inspect(l Layout) (Summary, error) {
	state, err := l.State()
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Layout: l, State: state}
	if state == StateIncomplete {
		if info, err := os.Stat(l.Dir()); err == nil {
			summary.UpdatedAt = info.ModTime()
		}
	} else {
		if mod, err := l.MarkerModTime(state); err == nil {
			summary.UpdatedAt = mod
		}
		if fields, err := ReadMarker(l, state); err == nil {
			summary.Fields = fields
		}
	}
	if meta, err := ReadMetadata(l); err == nil {
		summary.Metadata = &meta
	}
	return summary, nil
}

// List returns every job directory under jobsDir ordered by last update.
// Entries that do not look like job keys are ignored.
func List(jobsDir, paramsFileName string) ([]Summary, error) {
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ValidKey(entry.Name()) {
			continue
		}
		summary, err := Inspect(NewLayout(jobsDir, entry.Name(), paramsFileName))
		if err != nil {
			// Removed while listing.
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.Before(summaries[j].UpdatedAt)
		}
		return summaries[i].Layout.Key < summaries[j].Layout.Key
	})
	return summaries, nil
}

// Ready returns jobs holding a READY marker, oldest marker first with ties
// broken by key.
func Ready(jobsDir, paramsFileName string) ([]Layout, error) {
	return withMarker(jobsDir, paramsFileName, StateReady)
}

// Working returns jobs holding a WORKING marker.
func Working(jobsDir, paramsFileName string) ([]Layout, error) {
	return withMarker(jobsDir, paramsFileName, StateWorking)
}

func withMarker(jobsDir, paramsFileName string, state State) ([]Layout, error) {
	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type found struct {
		layout Layout
		mod    time.Time
	}
	var items []found
	for _, entry := range entries {
		if !entry.IsDir() || !ValidKey(entry.Name()) {
			continue
		}
		layout := NewLayout(jobsDir, entry.Name(), paramsFileName)
		mod, err := layout.MarkerModTime(state)
		if err != nil {
			continue
		}
		items = append(items, found{layout: layout, mod: mod})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].mod.Equal(items[j].mod) {
			return items[i].mod.Before(items[j].mod)
		}
		return items[i].layout.Key < items[j].layout.Key
	})
	layouts := make([]Layout, 0, len(items))
	for _, item := range items {
		layouts = append(layouts, item.layout)
	}
	return layouts, nil
}

// CountByState tallies job directories per state.
func CountByState(summaries []Summary) map[string]int {
	counts := make(map[string]int, len(AllStates))
	for _, state := range AllStates {
		counts[string(state)] = 0
	}
	for _, s := range summaries {
		counts[string(s.State)]++
	}
	return counts
}
