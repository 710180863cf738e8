package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"quacwatch/internal/textutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	JobsDir  string `toml:"jobs_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// WatchTarget pairs an input folder with the output folder that receives results.
type WatchTarget struct {
	Input   string `toml:"input"`
	Output  string `toml:"output"`
	Pattern string `toml:"pattern"`
}

// ID returns a stable slug derived from the input folder and pattern.
func (t WatchTarget) ID() string {
	return textutil.SanitizeToken(t.Input + "_" + t.Pattern)
}

// LedgerPath returns the location of the target's processed-file ledger.
func (t WatchTarget) LedgerPath() string {
	return filepath.Join(t.Output, "ignore.txt")
}

// Watch contains detector configuration.
type Watch struct {
	IntervalSeconds int           `toml:"interval_seconds"`
	DefaultPattern  string        `toml:"default_pattern"`
	Targets         []WatchTarget `toml:"targets"`
}

// Pipeline contains configuration for launching the external workflow.
type Pipeline struct {
	NextflowBin    string   `toml:"nextflow_bin"`
	Script         string   `toml:"script"`
	Profile        string   `toml:"profile"`
	Template       string   `toml:"template"`
	ParamsFileName string   `toml:"params_file_name"`
	ExtraArgs      []string `toml:"extra_args"`
}

// Reference contains the folders searched for reference files substituted
// into the parameter template.
type Reference struct {
	FastaDir string `toml:"fasta_dir"`
	SpikeDir string `toml:"spike_dir"`
}

// Runner contains job lifecycle runner configuration.
type Runner struct {
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
	MaxParallel         int  `toml:"max_parallel"`
	PublishErrorLogs    bool `toml:"publish_error_logs"`
	JobRetentionDays    int  `toml:"job_retention_days"`
}

// Share describes one CIFS share mounted before watching starts.
type Share struct {
	Name        string `toml:"name"`
	Host        string `toml:"host"`
	Share       string `toml:"share"`
	Mountpoint  string `toml:"mountpoint"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	PasswordEnv string `toml:"password_env"`
	Domain      string `toml:"domain"`
	Vers        string `toml:"vers"`
	FileMode    string `toml:"file_mode"`
	DirMode     string `toml:"dir_mode"`
	ExtraOpts   string `toml:"extra_opts"`
}

// Mounts contains the share mounter policy and share list.
type Mounts struct {
	ContinueOnError bool    `toml:"continue_on_error"`
	UnmountOnExit   bool    `toml:"unmount_on_exit"`
	Shares          []Share `toml:"shares"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains the optional Prometheus endpoint configuration.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for quacwatch.
//
// Configuration sections by subsystem:
//   - Paths: job, log and state directories
//   - Watch: detector interval and watch targets
//   - Pipeline: Nextflow binary, workflow script, parameter template
//   - Reference: FASTA and spike-in reference folders
//   - Runner: lifecycle runner polling, parallelism and retention
//   - Mounts: CIFS shares and mount policy
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus bind address
type Config struct {
	EnvFile   string    `toml:"env_file"`
	Paths     Paths     `toml:"paths"`
	Watch     Watch     `toml:"watch"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Reference Reference `toml:"reference"`
	Runner    Runner    `toml:"runner"`
	Mounts    Mounts    `toml:"mounts"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/quacwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	baseDir := ""
	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		baseDir = filepath.Dir(resolvedPath)
	}

	if err := cfg.loadEnvFile(baseDir); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(baseDir); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("quacwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadEnvFile populates the process environment from env_file without
// overriding variables that are already set.
func (c *Config) loadEnvFile(baseDir string) error {
	c.EnvFile = strings.TrimSpace(c.EnvFile)
	if c.EnvFile == "" {
		return nil
	}
	path, err := resolvePath(c.EnvFile, baseDir)
	if err != nil {
		return fmt.Errorf("env_file: %w", err)
	}
	c.EnvFile = path
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env_file %q: %w", path, err)
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
// Watch target folders are not created; an input folder that is missing is a
// transient scan error, typically an unmounted share.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.JobsDir, c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WatchInterval returns the detector cycle length.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

// RunnerPollInterval returns the lifecycle runner polling interval.
func (c *Config) RunnerPollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalSeconds) * time.Second
}

// LockPath returns the single-instance daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "quacwatch.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "quacwatch.pid")
}

// HistoryPath returns the SQLite job history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// EnqueuedSetPath returns the run-local enqueued-set file for a target.
func (c *Config) EnqueuedSetPath(target WatchTarget) string {
	return filepath.Join(c.Paths.StateDir, "enqueued", target.ID()+".txt")
}

// LedgerLockDir returns the folder holding ledger lock files.
func (c *Config) LedgerLockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// SharePassword returns the password for a share, reading password_env when the
// inline password is empty.
func (s Share) SharePassword() string {
	if s.Password != "" {
		return s.Password
	}
	if s.PasswordEnv != "" {
		return os.Getenv(s.PasswordEnv)
	}
	return ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// resolvePath expands a path, anchoring relative values at baseDir when one is known.
func resolvePath(pathValue, baseDir string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", nil
	}
	if baseDir != "" && !strings.HasPrefix(pathValue, "~") && !filepath.IsAbs(pathValue) {
		pathValue = filepath.Join(baseDir, pathValue)
	}
	return expandPath(pathValue)
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
