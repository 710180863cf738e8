package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement defines an external dependency quacwatch relies on. Fallbacks
// are absolute paths tried when Command is not on PATH, such as helpers that
// live in /sbin.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Fallbacks   []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{
			Name:        req.Name,
			Command:     strings.TrimSpace(req.Command),
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if status.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := locate(status.Command, req.Fallbacks...)
		if err != nil {
			status.Detail = err.Error()
			results = append(results, status)
			continue
		}
		status.Path = path
		status.Available = true
		results = append(results, status)
	}
	return results
}

// locate resolves command on PATH, then tries each fallback, and returns the
// absolute path of the first executable match.
func locate(command string, fallbacks ...string) (string, error) {
	candidates := make([]string, 0, 1+len(fallbacks))
	if resolved, err := exec.LookPath(command); err == nil {
		candidates = append(candidates, resolved)
	} else if strings.ContainsRune(command, filepath.Separator) {
		candidates = append(candidates, command)
	}
	candidates = append(candidates, fallbacks...)
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if !isExecutable(info) {
			return "", fmt.Errorf("%q is not executable", candidate)
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			candidate = abs
		}
		return candidate, nil
	}
	return "", fmt.Errorf("binary %q not found", command)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
