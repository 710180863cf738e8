package pipeline

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// EnvBinary overrides every other source of the executable.
const EnvBinary = "NEXTFLOW_BIN"

const defaultBinary = "nextflow"

// Source names where the executable was found.
type Source string

const (
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceBundled Source = "bundled"
	SourcePath    Source = "path"
	SourceDefault Source = "default"
)

// Test seams.
var (
	executablePath = os.Executable
	workingDir     = os.Getwd
	lookPath       = exec.LookPath
)

// Resolve picks the Nextflow executable: NEXTFLOW_BIN, then the configured
// value, then a bundled copy next to the quacwatch binary or in the working
// directory, then PATH, and finally the bare name.
func Resolve(configured string) (string, Source) {
	if value := strings.TrimSpace(os.Getenv(EnvBinary)); value != "" {
		return value, SourceEnv
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value, SourceConfig
	}
	for _, dir := range bundledDirs() {
		candidate := filepath.Join(dir, defaultBinary)
		if isExecutable(candidate) {
			return candidate, SourceBundled
		}
	}
	if path, err := lookPath(defaultBinary); err == nil {
		return path, SourcePath
	}
	return defaultBinary, SourceDefault
}

func bundledDirs() []string {
	var dirs []string
	if exe, err := executablePath(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := workingDir(); err == nil {
		dirs = append(dirs, wd)
	}
	return dirs
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
