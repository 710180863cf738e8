package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quacwatch/internal/fileutil"
)

// SourceInfo describes the file or acquisition directory a job was built from.
type SourceInfo struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// TargetInfo describes the watch target that produced the job.
type TargetInfo struct {
	ID      string `json:"id"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Pattern string `json:"pattern"`
}

// References records the reference files substituted into the parameters.
type References struct {
	Fasta string `json:"fasta,omitempty"`
	Spike string `json:"spike,omitempty"`
}

// Metadata is the job.json document.
type Metadata struct {
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	Source     SourceInfo `json:"source"`
	Target     TargetInfo `json:"target"`
	LedgerPath string     `json:"ledger_path"`
	ParamsPath string     `json:"params_path"`
	InputDir   string     `json:"input_dir"`
	OutputDir  string     `json:"output_dir"`
	References References `json:"references"`
}

// InputPath returns the job-local copy of the source.
func (m Metadata) InputPath() string {
	if m.InputDir == "" || m.Source.Name == "" {
		return ""
	}
	return filepath.Join(m.InputDir, m.Source.Name)
}

// WriteMetadata stores job.json atomically.
func WriteMetadata(l Layout, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(l.MetadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("write job metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads job.json.
func ReadMetadata(l Layout) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(l.MetadataPath())
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode %s: %w", l.MetadataPath(), err)
	}
	return meta, nil
}
