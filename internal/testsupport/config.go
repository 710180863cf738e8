package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"quacwatch/internal/config"
)

// DefaultTemplate is the parameter template written by NewConfig.
const DefaultTemplate = `{
  "main_raw_files_folder": "%%%INPUT%%%",
  "main_outdir": "%%%OUTPUT%%%",
  "main_fasta_file": "%%%FASTA%%%",
  "spk_spike_in_csv": "%%%SPIKE%%%"
}
`

// SuccessPipeline is a stub pipeline that writes one result file and exits 0.
const SuccessPipeline = "#!/bin/sh\nmkdir -p output\necho report > output/report.html\necho \"$@\"\nexit 0\n"

// FailingPipeline is a stub pipeline that writes a log line and exits 3.
const FailingPipeline = "#!/bin/sh\necho 'ERROR ~ process failed' >&2\nexit 3\n"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults one watch target, a workflow script, and a parameter template
// and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.JobsDir = filepath.Join(base, "jobs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Watch.IntervalSeconds = 1
	cfgVal.Runner.PollIntervalSeconds = 1
	cfgVal.Reference.FastaDir = filepath.Join(base, "reference", "fasta")
	cfgVal.Reference.SpikeDir = filepath.Join(base, "reference", "spike")
	cfgVal.Pipeline.Script = filepath.Join(base, "pipeline", "main.nf")
	cfgVal.Pipeline.Template = filepath.Join(base, "pipeline", "mcquac.tmpl.json")
	cfgVal.Watch.Targets = []config.WatchTarget{{
		Input:   filepath.Join(base, "watch", "in"),
		Output:  filepath.Join(base, "watch", "out"),
		Pattern: "*.raw",
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	builder.write(cfgVal.Pipeline.Script, "// workflow\n", 0o644)
	builder.write(cfgVal.Pipeline.Template, DefaultTemplate, 0o644)
	for _, target := range cfgVal.Watch.Targets {
		builder.mkdir(target.Input)
		builder.mkdir(target.Output)
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

func (b *configBuilder) mkdir(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func (b *configBuilder) write(path, content string, mode os.FileMode) {
	b.mkdir(filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		b.t.Fatalf("write %s: %v", path, err)
	}
}

// WithPipeline writes script as an executable stub and configures it as the
// Nextflow binary.
func WithPipeline(script string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "bin", "nextflow-stub")
		b.write(path, script, 0o755)
		b.cfg.Pipeline.NextflowBin = path
	}
}

// WithTarget adds a watch target whose folders live below the temp dir.
func WithTarget(name, pattern string) ConfigOption {
	return func(b *configBuilder) {
		target := config.WatchTarget{
			Input:   filepath.Join(b.baseDir, name, "in"),
			Output:  filepath.Join(b.baseDir, name, "out"),
			Pattern: pattern,
		}
		b.mkdir(target.Input)
		b.mkdir(target.Output)
		b.cfg.Watch.Targets = append(b.cfg.Watch.Targets, target)
	}
}

// WithReference writes a FASTA and a spike-in file into the reference folders.
func WithReference() ConfigOption {
	return func(b *configBuilder) {
		b.write(filepath.Join(b.cfg.Reference.FastaDir, "proteome.fasta"), ">sp|P1\nMKV\n", 0o644)
		b.write(filepath.Join(b.cfg.Reference.SpikeDir, "spike.csv"), "name,mass\n", 0o644)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default quacwatch external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"nextflow", "mount", "mount.cifs", "umount", "ping"}
		}
		binDir := filepath.Join(b.baseDir, "path-bin")
		b.mkdir(binDir)
		for _, name := range names {
			b.write(filepath.Join(binDir, name), "#!/bin/sh\nexit 0\n", 0o755)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.JobsDir)
}
